package relay

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pion/ice/v3"
	"github.com/pion/logging"
	"github.com/pion/stun/v2"
	"github.com/sirupsen/logrus"
)

const kindICE = "ice"

// ICENegotiator negotiates a UDP path with ICE. Credentials and gathered
// candidates travel over the relay channel; the peer with the larger
// tie-breaker is the controlling agent.
type ICENegotiator struct {
	// STUNServers are "stun:host:port" URIs used for server-reflexive
	// candidates. Host candidates are always gathered.
	STUNServers []string

	// NetworkTypes restricts candidate networks; empty means UDP4 and UDP6.
	NetworkTypes []ice.NetworkType

	// LoggerFactory receives the ICE agent's logs; nil logs warnings to stderr.
	LoggerFactory logging.LoggerFactory
}

// Negotiate implements Negotiator.
func (n *ICENegotiator) Negotiate(ctx context.Context, relay Channel) (net.Conn, error) {
	config, err := n.agentConfig()
	if err != nil {
		return nil, err
	}

	agent, err := ice.NewAgent(config)
	if err != nil {
		return nil, fmt.Errorf("create ice agent: %w", err)
	}

	candidates, err := gatherCandidates(ctx, agent)
	if err != nil {
		agent.Close()
		return nil, err
	}

	ufrag, pwd, err := agent.GetLocalUserCredentials()
	if err != nil {
		agent.Close()
		return nil, err
	}

	tieBreaker, err := newTieBreaker()
	if err != nil {
		agent.Close()
		return nil, err
	}

	ours := &signal{
		Kind:       kindICE,
		TieBreaker: tieBreaker,
		Ufrag:      ufrag,
		Pwd:        pwd,
		Candidates: candidates,
	}
	theirs, err := exchangeSignals(ctx, relay, ours)
	if err != nil {
		agent.Close()
		return nil, err
	}

	controlling, err := leads(ours, theirs)
	if err != nil {
		agent.Close()
		return nil, err
	}

	if err := addRemoteCandidates(agent, theirs.Candidates); err != nil {
		agent.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":          "ICENegotiator.Negotiate",
		"local_candidates":  len(ours.Candidates),
		"remote_candidates": len(theirs.Candidates),
		"controlling":       controlling,
	}).Debug("ICE signals exchanged")

	var conn *ice.Conn
	if controlling {
		conn, err = agent.Dial(ctx, theirs.Ufrag, theirs.Pwd)
	} else {
		conn, err = agent.Accept(ctx, theirs.Ufrag, theirs.Pwd)
	}
	if err != nil {
		agent.Close()
		return nil, fmt.Errorf("ice connect: %w", err)
	}

	return &iceConn{Conn: conn, agent: agent}, nil
}

// agentConfig builds the ICE agent configuration.
func (n *ICENegotiator) agentConfig() (*ice.AgentConfig, error) {
	config := &ice.AgentConfig{
		NetworkTypes:  n.NetworkTypes,
		LoggerFactory: n.LoggerFactory,
	}
	if len(config.NetworkTypes) == 0 {
		config.NetworkTypes = []ice.NetworkType{ice.NetworkTypeUDP4, ice.NetworkTypeUDP6}
	}
	if config.LoggerFactory == nil {
		factory := logging.NewDefaultLoggerFactory()
		factory.DefaultLogLevel = logging.LogLevelWarn
		config.LoggerFactory = factory
	}

	for _, raw := range n.STUNServers {
		uri, err := stun.ParseURI(raw)
		if err != nil {
			return nil, fmt.Errorf("parse stun server %q: %w", raw, err)
		}
		config.Urls = append(config.Urls, uri)
	}
	return config, nil
}

// gatherCandidates gathers local candidates and waits for gathering to finish.
func gatherCandidates(ctx context.Context, agent *ice.Agent) ([]string, error) {
	var (
		mu         sync.Mutex
		candidates []string
	)
	done := make(chan struct{})
	var doneOnce sync.Once

	err := agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			doneOnce.Do(func() { close(done) })
			return
		}
		mu.Lock()
		candidates = append(candidates, c.Marshal())
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	if err := agent.GatherCandidates(); err != nil {
		return nil, fmt.Errorf("gather ice candidates: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return candidates, nil
}

// addRemoteCandidates adds the candidates published by the remote. Single
// malformed entries are skipped.
func addRemoteCandidates(agent *ice.Agent, candidates []string) error {
	added := 0
	for _, raw := range candidates {
		c, err := ice.UnmarshalCandidate(raw)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "addRemoteCandidates",
				"candidate": raw,
				"error":     err.Error(),
			}).Debug("Skipping malformed remote candidate")
			continue
		}
		if err := agent.AddRemoteCandidate(c); err != nil {
			return err
		}
		added++
	}
	if added == 0 {
		return fmt.Errorf("%w: remote published no usable ice candidates", ErrInvalidSignal)
	}
	return nil
}

// iceConn closes the agent together with the connection.
type iceConn struct {
	*ice.Conn
	agent *ice.Agent
}

func (c *iceConn) Close() error {
	err := c.Conn.Close()
	c.agent.Close()
	return err
}
