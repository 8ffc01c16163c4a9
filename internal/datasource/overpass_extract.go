package datasource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MeKo-Tech/areastats/internal/types"
)

// Response is a decoded Overpass API JSON document.
type Response struct {
	Version   float64         `json:"version"`
	Generator string          `json:"generator"`
	Remark    string          `json:"remark,omitempty"`
	Elements  []types.Element `json:"elements"`
}

// RuntimeError reports whether Overpass aborted the query server-side.
// Overpass signals timeouts and memory exhaustion with a 200 status and a remark.
func (r *Response) RuntimeError() bool {
	return strings.HasPrefix(strings.TrimSpace(r.Remark), "runtime error")
}

// DecodeOverpass reads an Overpass JSON response. Elements of unknown type
// are dropped; Elements is never nil.
func DecodeOverpass(r io.Reader) (*Response, error) {
	var resp Response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode overpass json: %w", err)
	}

	known := resp.Elements[:0]
	for _, el := range resp.Elements {
		switch el.Type {
		case types.ElementNode, types.ElementWay, types.ElementRelation:
			known = append(known, el)
		}
	}
	resp.Elements = known
	if resp.Elements == nil {
		resp.Elements = []types.Element{}
	}
	return &resp, nil
}

// DecodeOverpassJSON decodes an in-memory Overpass response into elements.
// This is what the WASM build and the raw analysis endpoint use. A runtime
// error remark means the result was cut short, so it fails even when some
// elements arrived.
func DecodeOverpassJSON(data []byte) ([]types.Element, error) {
	resp, err := DecodeOverpass(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if resp.RuntimeError() {
		return nil, fmt.Errorf("overpass %s", strings.TrimSpace(resp.Remark))
	}
	return resp.Elements, nil
}
