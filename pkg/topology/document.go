package topology

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// EditorHint is written as the first field of every saved document so that
// editors reload the file when the controller rewrites it.
const EditorHint = " -*- eval: (auto-revert-mode 1); -*-"

// Document is the persisted topology description.
type Document struct {
	Nodes  []NodeDoc  `json:"nodes"`
	Links  []LinkDoc  `json:"links"`
	Routes []RouteDoc `json:"routes"`
}

// NodeDoc is one entry of the nodes list. The datapath id is stored as a
// 16 digit hex string under "DPID".
type NodeDoc struct {
	Name         string
	DPID         string
	Hostname     string
	External     *bool
	ManagementIP string
	Latitude     *float64
	Longitude    *float64
	X            *float64
	Y            *float64
	Ports        map[string]PortDoc
	Extra        map[string]json.RawMessage
}

type PortDoc struct {
	IP  string `json:"ip,omitempty"`
	MAC string `json:"mac,omitempty"`
}

var nodeKeys = []string{"name", "DPID", "hostname", "external", "management_ip", "latitude", "longitude", "x", "y", "ports"}

func (d *NodeDoc) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := map[string]any{
		"name":          &d.Name,
		"DPID":          &d.DPID,
		"hostname":      &d.Hostname,
		"external":      &d.External,
		"management_ip": &d.ManagementIP,
		"latitude":      &d.Latitude,
		"longitude":     &d.Longitude,
		"x":             &d.X,
		"y":             &d.Y,
		"ports":         &d.Ports,
	}
	for k, v := range raw {
		dst, ok := fields[k]
		if !ok {
			if d.Extra == nil {
				d.Extra = make(map[string]json.RawMessage)
			}
			d.Extra[k] = v
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("node field %q: %w", k, err)
		}
	}
	return nil
}

func (d NodeDoc) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(nodeKeys)+len(d.Extra))
	for k, v := range d.Extra {
		m[k] = v
	}
	m["name"] = d.Name
	m["DPID"] = d.DPID
	if d.Hostname != "" {
		m["hostname"] = d.Hostname
	}
	if d.External != nil {
		m["external"] = *d.External
	}
	if d.ManagementIP != "" {
		m["management_ip"] = d.ManagementIP
	}
	for k, v := range map[string]*float64{"latitude": d.Latitude, "longitude": d.Longitude, "x": d.X, "y": d.Y} {
		if v != nil {
			m[k] = *v
		}
	}
	if len(d.Ports) > 0 {
		m["ports"] = d.Ports
	}
	return marshalCanonical(m)
}

// LinkDoc accepts "A-B", "A:3-B:1" or an object with name_a, name_b,
// port_a, port_b, properties and the legacy single "prop".
type LinkDoc struct {
	NameA, NameB string
	PortA, PortB int
	Props        []string
}

var linkPattern = regexp.MustCompile(`^([^:-]+)(?::([0-9]+))?-([^:-]+)(?::([0-9]+))?$`)

// ParseLinkString parses the compact link form.
func ParseLinkString(s string) (LinkDoc, error) {
	m := linkPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return LinkDoc{}, fmt.Errorf("malformed link %q", s)
	}
	d := LinkDoc{NameA: m[1], NameB: m[3]}
	if m[2] != "" {
		d.PortA, _ = strconv.Atoi(m[2])
	}
	if m[4] != "" {
		d.PortB, _ = strconv.Atoi(m[4])
	}
	return d, nil
}

func (d *LinkDoc) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseLinkString(s)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	var obj struct {
		NameA      string          `json:"name_a"`
		NameB      string          `json:"name_b"`
		PortA      json.Number     `json:"port_a"`
		PortB      json.Number     `json:"port_b"`
		Prop       string          `json:"prop"`
		Properties json.RawMessage `json:"properties"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return fmt.Errorf("malformed link: %w", err)
	}
	if obj.NameA == "" || obj.NameB == "" {
		return fmt.Errorf("link without name_a/name_b: %s", data)
	}
	*d = LinkDoc{NameA: obj.NameA, NameB: obj.NameB}
	if obj.PortA != "" {
		n, err := obj.PortA.Int64()
		if err != nil {
			return fmt.Errorf("link port_a: %w", err)
		}
		d.PortA = int(n)
	}
	if obj.PortB != "" {
		n, err := obj.PortB.Int64()
		if err != nil {
			return fmt.Errorf("link port_b: %w", err)
		}
		d.PortB = int(n)
	}
	if obj.Prop != "" {
		d.Props = append(d.Props, obj.Prop)
	}
	if len(obj.Properties) > 0 {
		var list []string
		if err := json.Unmarshal(obj.Properties, &list); err != nil {
			var one string
			if err := json.Unmarshal(obj.Properties, &one); err != nil {
				return fmt.Errorf("link properties: %w", err)
			}
			list = []string{one}
		}
		d.Props = append(d.Props, list...)
	}
	d.Props = normalizeProps(d.Props)
	return nil
}

func (d LinkDoc) MarshalJSON() ([]byte, error) {
	if len(d.Props) == 0 {
		return json.Marshal(d.String())
	}
	m := map[string]any{"name_a": d.NameA, "name_b": d.NameB, "properties": d.Props}
	if d.PortA > 0 {
		m["port_a"] = d.PortA
	}
	if d.PortB > 0 {
		m["port_b"] = d.PortB
	}
	return marshalCanonical(m)
}

// String renders the compact form.
func (d LinkDoc) String() string {
	side := func(name string, port int) string {
		if port > 0 {
			return name + ":" + strconv.Itoa(port)
		}
		return name
	}
	return side(d.NameA, d.PortA) + "-" + side(d.NameB, d.PortB)
}

// RouteDoc accepts "A-B-C" or ["A-B-C", prop...].
type RouteDoc struct {
	Hops  []string
	Props []string
}

func (d *RouteDoc) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = RouteDoc{Hops: strings.Split(s, "-")}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("malformed route: %w", err)
	}
	if len(list) == 0 {
		return fmt.Errorf("empty route")
	}
	*d = RouteDoc{Hops: strings.Split(list[0], "-"), Props: list[1:]}
	return nil
}

func (d RouteDoc) MarshalJSON() ([]byte, error) {
	name := strings.Join(d.Hops, "-")
	if len(d.Props) == 0 {
		return json.Marshal(name)
	}
	return json.Marshal(append([]string{name}, d.Props...))
}

// ParseDocument decodes a topology document. Null lists are accepted.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if len(bytes.TrimSpace(data)) == 0 {
		return &doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Encode writes the canonical form: sorted keys, four space indentation and
// the editor hint as the first field.
func (d *Document) Encode() ([]byte, error) {
	top := map[string]any{
		"emacs":  EditorHint,
		"nodes":  nonNil(d.Nodes),
		"links":  nonNil(d.Links),
		"routes": nonNil(d.Routes),
	}
	return marshalIndent(top)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func marshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExternalFunc decides the external flag of nodes whose document entry
// does not carry one.
type ExternalFunc func(hostname string) bool

// BuildGraph turns a document into a graph. Broken entries are reported
// through the returned error list and skipped; the graph is usable either way.
func BuildGraph(doc *Document, g *Graph, external ExternalFunc) []error {
	var errs []error
	for _, nd := range doc.Nodes {
		n, err := nd.toNode()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if nd.External == nil && external != nil {
			n.External = external(n.Hostname)
		}
		if err := g.AddNode(n); err != nil {
			errs = append(errs, err)
		}
	}
	for _, ld := range doc.Links {
		if _, err := g.AddLink(ld.NameA, ld.NameB, ld.PortA, ld.PortB, ld.Props...); err != nil {
			errs = append(errs, err)
		}
	}
	for _, rd := range doc.Routes {
		if err := g.AddRoute(rd.Hops, rd.Props...); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (d NodeDoc) toNode() (*Node, error) {
	if d.Name == "" {
		return nil, NewError("load_node").NodeName(d.DPID).Cause(fmt.Errorf("missing name")).Err()
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(d.DPID, "0x"), 16, 64)
	if err != nil {
		return nil, NewError("load_node").NodeName(d.Name).Cause(fmt.Errorf("bad DPID %q: %w", d.DPID, err)).Err()
	}
	n := NewNode(id, d.Name)
	n.Hostname = d.Hostname
	if d.External != nil {
		n.External = *d.External
	}
	n.ManagementIP = d.ManagementIP
	n.Latitude, n.Longitude, n.X, n.Y = d.Latitude, d.Longitude, d.X, d.Y
	n.extra = d.Extra
	for k, pd := range d.Ports {
		num, err := strconv.Atoi(k)
		if err != nil {
			return nil, NewError("load_node").NodeName(d.Name).Cause(fmt.Errorf("bad port %q: %w", k, err)).Err()
		}
		p := &Port{Number: num}
		if pd.IP != "" {
			if p.IP, err = netip.ParseAddr(pd.IP); err != nil {
				return nil, NewError("load_node").NodeName(d.Name).Cause(err).Err()
			}
		}
		if pd.MAC != "" {
			if p.MAC, err = net.ParseMAC(pd.MAC); err != nil {
				return nil, NewError("load_node").NodeName(d.Name).Cause(err).Err()
			}
		}
		n.Ports[num] = p
	}
	return n, nil
}

// FormatDPID renders a datapath id the way documents store it.
func FormatDPID(id uint64) string {
	return fmt.Sprintf("%016x", id)
}

// Document serialises the graph.
func (g *Graph) Document() *Document {
	g.mu.RLock()
	defer g.mu.RUnlock()

	doc := &Document{}
	for _, n := range g.sortedNodes() {
		nd := NodeDoc{
			Name:         n.Name,
			DPID:         FormatDPID(n.ID),
			Hostname:     n.Hostname,
			ManagementIP: n.ManagementIP,
			Latitude:     n.Latitude,
			Longitude:    n.Longitude,
			X:            n.X,
			Y:            n.Y,
			Extra:        n.extra,
		}
		if n.External {
			ext := true
			nd.External = &ext
		}
		for num, p := range n.Ports {
			if !p.IP.IsValid() && p.MAC == nil {
				continue
			}
			if nd.Ports == nil {
				nd.Ports = make(map[string]PortDoc)
			}
			pd := PortDoc{}
			if p.IP.IsValid() {
				pd.IP = p.IP.String()
			}
			if p.MAC != nil {
				pd.MAC = p.MAC.String()
			}
			nd.Ports[strconv.Itoa(num)] = pd
		}
		doc.Nodes = append(doc.Nodes, nd)
	}

	links := make([]*Link, 0, len(g.links))
	for _, l := range g.links {
		links = append(links, l)
	}
	slices.SortFunc(links, compareLinks)
	for _, l := range links {
		a, b := g.byID[l.A], g.byID[l.B]
		ld := LinkDoc{NameA: a.Name, NameB: b.Name, Props: slices.Clone(l.Props)}
		// Port numbers of switches are chosen by the transport; only the
		// ports of external endpoints are worth keeping.
		if a.External {
			ld.PortA = l.PortA
		}
		if b.External {
			ld.PortB = l.PortB
		}
		doc.Links = append(doc.Links, ld)
	}

	for _, r := range g.routes {
		rd := RouteDoc{Props: slices.Clone(r.Props)}
		for _, id := range r.Hops {
			rd.Hops = append(rd.Hops, g.byID[id].Name)
		}
		doc.Routes = append(doc.Routes, rd)
	}
	return doc
}
