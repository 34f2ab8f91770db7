package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/model"
)

// GossipService propagates cluster membership over memberlist and
// feeds the peer registry. Join and update events mark peers
// reachable; leave and failure events mark them unreachable. Peers
// discovered through gossip are registered with their advertised role,
// so a cluster wired with seeds needs no manual registration calls.
type GossipService struct {
	config     GossipConfig
	memberlist *memberlist.Memberlist
	nodeID     string
	role       model.PeerRole
	registry   *PeerRegistry
	jm         *JournalManager
	logger     *zap.Logger
}

// GossipConfig holds gossip configuration
type GossipConfig struct {
	Enabled  bool
	BindAddr string
	BindPort int
	Seeds    []string
}

// gossipNodeMeta is the node metadata advertised through memberlist
type gossipNodeMeta struct {
	NodeID string         `json:"node_id"`
	Role   model.PeerRole `json:"role"`
	Offset uint64         `json:"offset"`
}

// NewGossipService creates the gossip service and joins the seeds
func NewGossipService(cfg GossipConfig, nodeID string, role model.PeerRole, registry *PeerRegistry, jm *JournalManager, logger *zap.Logger) (*GossipService, error) {
	gs := &GossipService{
		config:   cfg,
		nodeID:   nodeID,
		role:     role,
		registry: registry,
		jm:       jm,
		logger:   logger,
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = nodeID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.Delegate = gs
	mlConfig.Events = &gossipEventDelegate{service: gs}
	mlConfig.LogOutput = zapWriter{logger.Named("memberlist")}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.Seeds) > 0 {
		joined, err := ml.Join(cfg.Seeds)
		if err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
		logger.Info("Joined gossip cluster",
			zap.Int("contacted", joined),
			zap.Strings("seeds", cfg.Seeds))
	}

	return gs, nil
}

// Members returns the live membership view
func (s *GossipService) Members() []string {
	nodes := s.memberlist.Members()
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	return names
}

// Shutdown leaves the cluster gracefully and stops gossiping
func (s *GossipService) Shutdown() error {
	if err := s.memberlist.Leave(5 * time.Second); err != nil {
		s.logger.Warn("Gossip leave failed", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(gossipNodeMeta{
		NodeID: s.nodeID,
		Role:   s.role,
		Offset: s.jm.LastOffset(),
	})
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	return s.NodeMeta(1 << 16)
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
}

// observePeer registers and marks reachable a node seen through gossip
func (s *GossipService) observePeer(node *memberlist.Node) {
	if node.Name == s.nodeID {
		return
	}

	var meta gossipNodeMeta
	role := model.RoleWorker
	if err := json.Unmarshal(node.Meta, &meta); err == nil && meta.Role != "" {
		role = meta.Role
	}

	if _, ok := s.registry.Get(node.Name); !ok {
		if err := s.registry.Register(node.Name, role); err != nil {
			s.logger.Warn("Failed to register gossiped peer",
				zap.String("node_id", node.Name),
				zap.Error(err))
			return
		}
	}
	s.registry.MarkReachable(node.Name)
}

// gossipEventDelegate routes membership events to the registry
type gossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *gossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()))
	d.service.observePeer(node)
}

// NotifyLeave is called when a node leaves or fails its probes
func (d *gossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left",
		zap.String("node_id", node.Name))
	if node.Name != d.service.nodeID {
		d.service.registry.MarkUnreachable(node.Name)
	}
}

// NotifyUpdate is called when a node's metadata changes
func (d *gossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated",
		zap.String("node_id", node.Name))
	d.service.observePeer(node)
}

// zapWriter adapts zap to the io.Writer memberlist logs through
type zapWriter struct {
	l *zap.Logger
}

func (w zapWriter) Write(p []byte) (int, error) {
	w.l.Debug(string(p))
	return len(p), nil
}
