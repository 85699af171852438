// Package meshcore implements the shared visualization core for the mesh
// packet feed: the canonical packet model, the entity state, the ingestion
// queue, decaying visual effects and the two render engines built on top.
package meshcore

import (
	"encoding/json"
	"fmt"
	"time"
)

// BroadcastID is the distinguished destination for mesh-wide broadcasts.
const BroadcastID uint32 = 0xFFFFFFFF

// Port numbers with dedicated decoders. Everything else stays opaque.
const (
	PortText       int32 = 1
	PortPosition   int32 = 3
	PortNodeInfo   int32 = 4
	PortRouting    int32 = 5
	PortTelemetry  int32 = 67
	PortTraceroute int32 = 70
)

// Packet is the canonical feed record. One of these arrives per websocket
// message; REST packet endpoints return arrays of the same shape.
type Packet struct {
	ID         int64           `json:"id"`
	CreatedAt  int64           `json:"created_at"`
	RxTime     int64           `json:"rx_time"`
	FromID     *uint32         `json:"from_id"`
	ToID       *uint32         `json:"to_id"`
	Portnum    *int32          `json:"portnum"`
	Portname   string          `json:"portname"`
	Channel    *int32          `json:"channel"`
	GatewayID  string          `json:"gateway_id"`
	RSSI       *float64        `json:"rssi"`
	SNR        *float64        `json:"snr"`
	HopStart   *int32          `json:"hop_start"`
	HopLimit   *int32          `json:"hop_limit"`
	Text       string          `json:"text"`
	PayloadB64 string          `json:"payload_b64"`
	FromLabel  string          `json:"from_label"`
	ToLabel    string          `json:"to_label"`
	RawDetails json.RawMessage `json:"details"`

	// Details is the decoded form of RawDetails, populated by Normalize.
	Details Details `json:"-"`
}

// Details is the tagged union over per-port decode payloads.
type Details interface {
	detailsKind() string
}

// TextDetails carries a plain text message (port 1).
type TextDetails struct {
	Text string `json:"text"`
}

// PositionDetails carries a position report (port 3). Coordinates may be
// present as floats, as 1e-7 scaled integers, or both.
type PositionDetails struct {
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	LatitudeI  *int64   `json:"latitude_i"`
	LongitudeI *int64   `json:"longitude_i"`
	Altitude   *int64   `json:"altitude"`
	SatsInView *int64   `json:"sats_in_view"`
}

// Coords resolves the report to degrees, preferring the float fields.
func (d *PositionDetails) Coords() (lat, lon float64, ok bool) {
	if d.Latitude != nil && d.Longitude != nil {
		return *d.Latitude, *d.Longitude, true
	}
	if d.LatitudeI != nil && d.LongitudeI != nil {
		return float64(*d.LatitudeI) / 1e7, float64(*d.LongitudeI) / 1e7, true
	}
	return 0, 0, false
}

// NodeInfoDetails carries self-reported node identity (port 4). Some feeds
// nest the user block, some flatten it; both shapes are accepted.
type NodeInfoDetails struct {
	User      *NodeUser `json:"user"`
	LongName  string    `json:"long_name"`
	ShortName string    `json:"short_name"`
}

type NodeUser struct {
	ID        string `json:"id"`
	LongName  string `json:"long_name"`
	ShortName string `json:"short_name"`
	HwModel   string `json:"hw_model"`
}

// Names returns the effective long/short names regardless of nesting.
func (d *NodeInfoDetails) Names() (long, short string) {
	if d.User != nil {
		return d.User.LongName, d.User.ShortName
	}
	return d.LongName, d.ShortName
}

// RouteBlock is one leg set of a route discovery: the hop list towards the
// destination and optionally the hop list back.
type RouteBlock struct {
	Route         []uint32  `json:"route"`
	RouteBack     []uint32  `json:"route_back"`
	SNRTowards    []float64 `json:"snr_towards"`
	SNRBack       []float64 `json:"snr_back"`
	RouteText     string    `json:"route_text"`
	RouteBackText string    `json:"route_back_text"`
}

// TracerouteDetails is the port 70 payload: a bare route block.
type TracerouteDetails struct {
	RouteBlock
}

// RoutingDetails is the port 5 payload: request/reply blocks plus an
// optional error reason ("NONE" when absent).
type RoutingDetails struct {
	RouteRequest *RouteBlock `json:"route_request"`
	RouteReply   *RouteBlock `json:"route_reply"`
	ErrorReason  string      `json:"error_reason"`
}

// TelemetryDetails carries device metrics (port 67). Only the
// device-metrics block is decoded; environment and power variants stay
// in the opaque raw payload.
type TelemetryDetails struct {
	DeviceMetrics *struct {
		BatteryLevel       *float64 `json:"battery_level"`
		Voltage            *float64 `json:"voltage"`
		ChannelUtilization *float64 `json:"channel_utilization"`
		AirUtilTx          *float64 `json:"air_util_tx"`
	} `json:"device_metrics"`
}

// OpaqueDetails preserves unrecognized decode payloads as-is.
type OpaqueDetails map[string]interface{}

func (*TextDetails) detailsKind() string       { return "text" }
func (*PositionDetails) detailsKind() string   { return "position" }
func (*NodeInfoDetails) detailsKind() string   { return "nodeinfo" }
func (*RoutingDetails) detailsKind() string    { return "routing" }
func (*TelemetryDetails) detailsKind() string  { return "telemetry" }
func (*TracerouteDetails) detailsKind() string { return "traceroute" }
func (OpaqueDetails) detailsKind() string      { return "opaque" }

// DecodeDetails parses a raw details payload according to the packet's
// port number. Unknown ports and empty payloads yield an opaque map so
// callers never need a nil check before the type switch.
func DecodeDetails(portnum *int32, raw json.RawMessage) Details {
	if len(raw) == 0 || string(raw) == "null" {
		return OpaqueDetails{}
	}
	if portnum != nil {
		switch *portnum {
		case PortText:
			var d TextDetails
			if json.Unmarshal(raw, &d) == nil {
				return &d
			}
		case PortPosition:
			var d PositionDetails
			if json.Unmarshal(raw, &d) == nil {
				return &d
			}
		case PortNodeInfo:
			var d NodeInfoDetails
			if json.Unmarshal(raw, &d) == nil {
				return &d
			}
		case PortRouting:
			var d RoutingDetails
			if json.Unmarshal(raw, &d) == nil {
				return &d
			}
		case PortTelemetry:
			var d TelemetryDetails
			if json.Unmarshal(raw, &d) == nil {
				return &d
			}
		case PortTraceroute:
			var d TracerouteDetails
			if json.Unmarshal(raw, &d) == nil {
				return &d
			}
		}
	}
	var o OpaqueDetails
	if json.Unmarshal(raw, &o) == nil {
		return o
	}
	return OpaqueDetails{}
}

// Normalize fills defaults a malformed or minimal record may miss: the
// timestamp, the display labels and the decoded details union. It never
// fails; bad fields fall back to safe values.
func (p *Packet) Normalize(now time.Time) {
	if p.CreatedAt == 0 {
		if p.RxTime > 0 {
			p.CreatedAt = p.RxTime
		} else {
			p.CreatedAt = now.Unix()
		}
	}
	if p.FromLabel == "" {
		p.FromLabel = FallbackLabel(p.FromID)
	}
	if p.ToLabel == "" {
		p.ToLabel = FallbackLabel(p.ToID)
	}
	if p.Details == nil {
		p.Details = DecodeDetails(p.Portnum, p.RawDetails)
	}
}

// FallbackLabel renders a node id the way the feed does when no name is
// known: "!<hex>", with the broadcast id spelled out.
func FallbackLabel(id *uint32) string {
	if id == nil {
		return "unknown"
	}
	if *id == BroadcastID {
		return "broadcast"
	}
	return fmt.Sprintf("!%08x", *id)
}

// IsBroadcast reports whether the packet targets the whole mesh.
func (p *Packet) IsBroadcast() bool {
	return p.ToID == nil || *p.ToID == BroadcastID
}

// MessageText returns the displayable chat text, if any.
func (p *Packet) MessageText() (string, bool) {
	if d, ok := p.Details.(*TextDetails); ok && d.Text != "" {
		return d.Text, true
	}
	if p.Text != "" {
		return p.Text, true
	}
	return "", false
}

// RoutePath is one extracted multi-hop route leg.
type RoutePath struct {
	Hops   []uint32
	Return bool
}

// RoutePaths extracts the route legs a routing or traceroute packet
// carries. Forward legs run origin to destination; return legs run the
// other way. Adjacent duplicate hops are collapsed.
func (p *Packet) RoutePaths() []RoutePath {
	if p.FromID == nil || p.ToID == nil {
		return nil
	}
	from, to := *p.FromID, *p.ToID
	var paths []RoutePath
	add := func(origin, dest uint32, hops []uint32, ret bool) {
		full := buildRoutePath(origin, hops, dest)
		if len(full) >= 2 {
			paths = append(paths, RoutePath{Hops: full, Return: ret})
		}
	}
	switch d := p.Details.(type) {
	case *TracerouteDetails:
		add(from, to, d.Route, false)
		if len(d.RouteBack) > 0 {
			add(to, from, d.RouteBack, true)
		}
	case *RoutingDetails:
		if d.RouteRequest != nil {
			add(from, to, d.RouteRequest.Route, false)
		}
		if d.RouteReply != nil {
			if len(d.RouteReply.Route) > 0 {
				add(from, to, d.RouteReply.Route, false)
			}
			if len(d.RouteReply.RouteBack) > 0 {
				add(to, from, d.RouteReply.RouteBack, true)
			}
		}
	}
	return paths
}

// buildRoutePath prepends the origin and appends the destination to the
// embedded hop list, dropping adjacent repeats.
func buildRoutePath(origin uint32, hops []uint32, dest uint32) []uint32 {
	path := make([]uint32, 0, len(hops)+2)
	path = append(path, origin)
	for _, h := range hops {
		if path[len(path)-1] != h {
			path = append(path, h)
		}
	}
	if path[len(path)-1] != dest {
		path = append(path, dest)
	}
	return path
}

// RouteText renders a hop list as the feed's "a -> b -> c" notation using
// the supplied label resolver.
func RouteText(hops []uint32, label func(uint32) string) string {
	out := ""
	for i, h := range hops {
		if i > 0 {
			out += " -> "
		}
		out += label(h)
	}
	return out
}
