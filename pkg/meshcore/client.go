package meshcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// FetchTimeout bounds every REST pull; a request that does not return in
// time is cancelled and treated as "no data".
const FetchTimeout = 10 * time.Second

// SummaryPollInterval paces the reconciling /api/graph + /api/metrics poll.
const SummaryPollInterval = 15 * time.Second

// GraphResponse mirrors /api/graph.
type GraphResponse struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}

type GraphNode struct {
	ID    uint32 `json:"id"`
	Label string `json:"label"`
}

type GraphLink struct {
	Source   uint32 `json:"source"`
	Target   uint32 `json:"target"`
	Portnum  int32  `json:"portnum"`
	Portname string `json:"portname"`
	Count    int    `json:"count"`
	LastSeen int64  `json:"last_seen"`
}

// NodeSummary mirrors one /api/nodes row.
type NodeSummary struct {
	NodeID      uint32   `json:"node_id"`
	LongName    string   `json:"long_name"`
	ShortName   string   `json:"short_name"`
	LastSeen    int64    `json:"last_seen"`
	PacketCount int      `json:"packet_count"`
	AvgRSSI     *float64 `json:"avg_rssi"`
	AvgSNR      *float64 `json:"avg_snr"`
	LastPacket  int64    `json:"last_packet"`
}

// MetricsResponse mirrors /api/metrics.
type MetricsResponse struct {
	PacketsPerMin float64  `json:"packets_per_min"`
	ActiveNodes   int      `json:"active_nodes"`
	MedianRSSI    *float64 `json:"median_rssi"`
	MedianSNR     *float64 `json:"median_snr"`
	TopPorts      []struct {
		Portnum  int32  `json:"portnum"`
		Portname string `json:"portname"`
		Count    int    `json:"count"`
	} `json:"top_ports"`
}

// PortSummary mirrors /api/ports rows and the ports block of a node
// detail response.
type PortSummary struct {
	Portnum  int32  `json:"portnum"`
	Portname string `json:"portname"`
	Count    int    `json:"count"`
	LastSeen int64  `json:"last_seen"`
}

// ChannelSummary mirrors /api/channels rows.
type ChannelSummary struct {
	Channel  int32 `json:"channel"`
	Count    int   `json:"count"`
	LastSeen int64 `json:"last_seen"`
}

// PeerSummary is one peer row of a node detail response.
type PeerSummary struct {
	PeerID   uint32 `json:"peer_id"`
	Count    int    `json:"count"`
	LastSeen int64  `json:"last_seen"`
}

// NodeDetailResponse mirrors /api/node/:id.
type NodeDetailResponse struct {
	Node    NodeSummary   `json:"node"`
	Packets []*Packet     `json:"packets"`
	Ports   []PortSummary `json:"ports"`
	Peers   []PeerSummary `json:"peers"`
}

// HealthResponse mirrors /api/health.
type HealthResponse struct {
	Status string `json:"status"`
	Broker string `json:"broker"`
	Topic  string `json:"topic"`
}

// FilterQuery is the common query vocabulary every endpoint accepts.
type FilterQuery struct {
	Window   int64
	Portnums []int32
	Channel  *int32
	Gateway  string
	Limit    int
	Node     *uint32
}

func (q FilterQuery) values() url.Values {
	v := url.Values{}
	if q.Window > 0 {
		v.Set("window", strconv.FormatInt(q.Window, 10))
	}
	if len(q.Portnums) > 0 {
		parts := make([]string, len(q.Portnums))
		for i, p := range q.Portnums {
			parts[i] = strconv.FormatInt(int64(p), 10)
		}
		v.Set("portnum", strings.Join(parts, ","))
	}
	if q.Channel != nil {
		v.Set("channel", strconv.FormatInt(int64(*q.Channel), 10))
	}
	if q.Gateway != "" {
		v.Set("gateway", q.Gateway)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Node != nil {
		v.Set("node", strconv.FormatUint(uint64(*q.Node), 10))
	}
	return v
}

// Client pulls from the read-only REST API. Every method fails soft: a
// timeout, a non-OK status or a parse error yields (nil, false) and the
// caller keeps its prior state.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) bool {
	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		log.Printf("Fetch %s failed: %v", path, err)
		return false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Error closing response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		log.Printf("Fetch %s: bad status %s", path, resp.Status)
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Printf("Fetch %s: decode error: %v", path, err)
		return false
	}
	return true
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, bool) {
	var out HealthResponse
	if !c.getJSON(ctx, "/api/health", nil, &out) {
		return nil, false
	}
	return &out, true
}

func (c *Client) Graph(ctx context.Context, q FilterQuery) (*GraphResponse, bool) {
	var out GraphResponse
	if !c.getJSON(ctx, "/api/graph", q.values(), &out) {
		return nil, false
	}
	return &out, true
}

func (c *Client) Nodes(ctx context.Context, q FilterQuery) ([]NodeSummary, bool) {
	var out []NodeSummary
	if !c.getJSON(ctx, "/api/nodes", q.values(), &out) {
		return nil, false
	}
	return out, true
}

func (c *Client) Packets(ctx context.Context, q FilterQuery) ([]*Packet, bool) {
	var out []*Packet
	if !c.getJSON(ctx, "/api/packets", q.values(), &out) {
		return nil, false
	}
	return out, true
}

func (c *Client) Metrics(ctx context.Context, q FilterQuery) (*MetricsResponse, bool) {
	var out MetricsResponse
	if !c.getJSON(ctx, "/api/metrics", q.values(), &out) {
		return nil, false
	}
	return &out, true
}

func (c *Client) Ports(ctx context.Context, q FilterQuery) ([]PortSummary, bool) {
	var out []PortSummary
	if !c.getJSON(ctx, "/api/ports", q.values(), &out) {
		return nil, false
	}
	return out, true
}

func (c *Client) Channels(ctx context.Context, q FilterQuery) ([]ChannelSummary, bool) {
	var out []ChannelSummary
	if !c.getJSON(ctx, "/api/channels", q.values(), &out) {
		return nil, false
	}
	return out, true
}

func (c *Client) NodeDetail(ctx context.Context, id uint32, q FilterQuery) (*NodeDetailResponse, bool) {
	var out NodeDetailResponse
	if !c.getJSON(ctx, fmt.Sprintf("/api/node/%d", id), q.values(), &out) {
		return nil, false
	}
	return &out, true
}

// Listener maintains the websocket feed: one JSON packet per message,
// pushed straight into the ingest queue. Reconnects use a capped
// exponential backoff and the connection state is surfaced via OnState.
type Listener struct {
	URL     string
	Queue   *IngestQueue
	OnState func(ConnState)
}

func NewListener(wsURL string, queue *IngestQueue, onState func(ConnState)) *Listener {
	return &Listener{URL: wsURL, Queue: queue, OnState: onState}
}

func (l *Listener) setState(s ConnState) {
	if l.OnState != nil {
		l.OnState(s)
	}
}

// Run blocks until ctx is cancelled, reconnecting forever. Catch-up
// after a reconnect is the caller's summary poll, not message replay.
func (l *Listener) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}
		l.setState(ConnConnecting)
		log.Printf("Connecting to feed: %s", l.URL)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.URL, nil)
		if err != nil {
			wait := bo.NextBackOff()
			log.Printf("Dial error: %v. Retrying in %v...", err, wait)
			l.setState(ConnOffline)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		l.setState(ConnOnline)

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Read error: %v. Reconnecting...", err)
				break
			}
			var p Packet
			if err := json.Unmarshal(message, &p); err != nil {
				continue
			}
			l.Queue.Push(&p)
		}
		if err := conn.Close(); err != nil {
			log.Printf("Error closing feed connection: %v", err)
		}
		l.setState(ConnOffline)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
