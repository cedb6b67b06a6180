package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"

	"github.com/nexus-edge/edge-dashboard/internal/logger"
	"github.com/nexus-edge/edge-dashboard/internal/metrics"
)

const (
	defaultMaxClients = 4
	// Events buffered per client before new ones are dropped
	clientBuffer = 16
	// Upper bound on ICE candidate gathering for one answer
	defaultGatherTimeout = 10 * time.Second
)

var (
	ErrInvalidOffer   = errors.New("invalid offer")
	ErrTooManyClients = errors.New("maximum clients reached")
	ErrGatherTimeout  = errors.New("ICE gathering timed out")
	ErrPeerClosed     = errors.New("peer connection closed during negotiation")
)

// Client is a browser connected over a data channel
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	channel  *webrtc.DataChannel
	msgsSent uint64
	dropped  uint64
}

func (c *Client) dataChannel() *webrtc.DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *Client) setDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.channel = dc
	c.mu.Unlock()
}

func (c *Client) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeChan)
		err = c.peerConn.Close()
	})
	return err
}

// Server pushes dashboard events to browsers over WebRTC data channels
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics

	gatherTimeout time.Duration
	// Returns a channel closed once candidate gathering finishes
	gatherDone func(*webrtc.PeerConnection) <-chan struct{}
}

// NewServer creates a new WebRTC server. With no ICE servers only host
// candidates are gathered.
func NewServer(iceURLs []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(iceURLs))
	for _, url := range iceURLs {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine)),
		metrics:    m,

		gatherTimeout: defaultGatherTimeout,
		gatherDone:    webrtc.GatheringCompletePromise,
	}
}

// HandleOffer answers a browser offer that carries a data channel and
// registers the client. The returned answer includes all ICE candidates.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("%w: expected SDP offer", ErrInvalidOffer)
	}

	if n := s.ClientCount(); n >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		sendChan:  make(chan []byte, clientBuffer),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		logger.Debug("WebRTC", "Client %s opened data channel %q", client.id, dc.Label())
		dc.OnOpen(func() { client.setDataChannel(dc) })
		dc.OnClose(func() { s.RemoveClient(client.id) })
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		_ = peerConn.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		_ = peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := s.gatherDone(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		_ = peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	gatherTimer := time.NewTimer(s.gatherTimeout)
	select {
	case <-gatherComplete:
		gatherTimer.Stop()
	case <-gatherTimer.C:
		_ = peerConn.Close()
		return nil, fmt.Errorf("%w after %v", ErrGatherTimeout, s.gatherTimeout)
	}

	s.clientsMu.Lock()
	if len(s.clients) >= s.maxClients {
		s.clientsMu.Unlock()
		_ = peerConn.Close()
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}
	s.clients[client.id] = client
	s.clientsMu.Unlock()
	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(1)
	}

	// A state change that fired before registration found nothing to remove
	switch peerConn.ConnectionState() {
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		s.RemoveClient(client.id)
		return nil, ErrPeerClosed
	}

	go s.sendLoop(client)
	logger.Info("WebRTC", "Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// Broadcast queues msg for every client. Slow clients drop messages.
func (s *Server) Broadcast(msg []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.sendChan <- msg:
		default:
			client.mu.Lock()
			client.dropped++
			client.mu.Unlock()
		}
	}
}

func (s *Server) sendLoop(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case msg := <-client.sendChan:
			dc := client.dataChannel()
			if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
				// Not open yet
				client.mu.Lock()
				client.dropped++
				client.mu.Unlock()
				continue
			}
			if err := dc.SendText(string(msg)); err != nil {
				logger.Warn("WebRTC", "Error sending to client %s: %v", client.id, err)
				continue
			}
			client.mu.Lock()
			client.msgsSent++
			client.mu.Unlock()
		}
	}
}

// RemoveClient closes and forgets a client.
func (s *Server) RemoveClient(clientID string) {
	_ = s.removeClient(clientID)
}

func (s *Server) removeClient(clientID string) error {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()
	if !exists {
		return nil
	}

	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(-1)
	}
	err := client.close()

	client.mu.Lock()
	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)", clientID, client.msgsSent, client.dropped)
	client.mu.Unlock()
	return err
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	var err error
	for _, id := range ids {
		err = multierr.Append(err, s.removeClient(id))
	}
	return err
}
