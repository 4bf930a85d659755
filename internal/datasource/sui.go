package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// SuiObject is the subset of a sui_getObject response the extractors read.
type SuiObject struct {
	Data *struct {
		ObjectID string `json:"objectId"`
		Type     string `json:"type"`
		Content  *struct {
			DataType string          `json:"dataType"`
			Type     string          `json:"type"`
			Fields   json.RawMessage `json:"fields"`
		} `json:"content"`
	} `json:"data"`
	Error json.RawMessage `json:"error,omitempty"`
}

// Fields decodes the Move object's fields into out.
func (o *SuiObject) Fields(out any) error {
	if o == nil || o.Data == nil || o.Data.Content == nil || len(o.Data.Content.Fields) == 0 {
		return fmt.Errorf("sui object has no content")
	}
	return json.Unmarshal(o.Data.Content.Fields, out)
}

// DynamicField is one entry of a suix_getDynamicFields page.
type DynamicField struct {
	Name struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"name"`
	ObjectID   string `json:"objectId"`
	ObjectType string `json:"objectType"`
}

type DynamicFieldPage struct {
	Data        []DynamicField `json:"data"`
	NextCursor  *string        `json:"nextCursor"`
	HasNextPage bool           `json:"hasNextPage"`
}

// SuiReader reads objects from the Sui JSON-RPC API.
type SuiReader interface {
	GetObject(ctx context.Context, id string) (*SuiObject, error)
	MultiGetObjects(ctx context.Context, ids []string) ([]SuiObject, error)
	GetDynamicFields(ctx context.Context, parent string, cursor *string, limit int) (*DynamicFieldPage, error)
	LatestCheckpoint(ctx context.Context) (uint64, error)
	Endpoint() string
}

type Sui struct {
	rpc         *rpc.Client
	endpoint    string
	callTimeout time.Duration
}

func DialSui(url string, httpClient *http.Client, callTimeout time.Duration) (*Sui, error) {
	c, err := rpc.DialHTTPWithClient(url, httpClient)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Sui{rpc: c, endpoint: url, callTimeout: callTimeout}, nil
}

func (s *Sui) call(ctx context.Context, out any, method string, args ...any) error {
	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()
	return s.rpc.CallContext(ctx, out, method, args...)
}

func (s *Sui) Endpoint() string { return s.endpoint }

func (s *Sui) Close() { s.rpc.Close() }

type suiObjectOptions struct {
	ShowContent bool `json:"showContent"`
	ShowType    bool `json:"showType"`
}

func (s *Sui) GetObject(ctx context.Context, id string) (*SuiObject, error) {
	var obj SuiObject
	if err := s.call(ctx, &obj, "sui_getObject", id, suiObjectOptions{ShowContent: true, ShowType: true}); err != nil {
		return nil, fmt.Errorf("sui_getObject %s: %w", id, err)
	}
	if obj.Data == nil {
		return nil, fmt.Errorf("sui_getObject %s: object not found: %s", id, string(obj.Error))
	}
	return &obj, nil
}

func (s *Sui) MultiGetObjects(ctx context.Context, ids []string) ([]SuiObject, error) {
	var objs []SuiObject
	if err := s.call(ctx, &objs, "sui_multiGetObjects", ids, suiObjectOptions{ShowContent: true, ShowType: true}); err != nil {
		return nil, fmt.Errorf("sui_multiGetObjects: %w", err)
	}
	return objs, nil
}

func (s *Sui) GetDynamicFields(ctx context.Context, parent string, cursor *string, limit int) (*DynamicFieldPage, error) {
	var page DynamicFieldPage
	if err := s.call(ctx, &page, "suix_getDynamicFields", parent, cursor, limit); err != nil {
		return nil, fmt.Errorf("suix_getDynamicFields %s: %w", parent, err)
	}
	return &page, nil
}

// LatestCheckpoint returns the latest checkpoint sequence number, Sui's
// closest analogue to a block height.
func (s *Sui) LatestCheckpoint(ctx context.Context) (uint64, error) {
	var seq string
	if err := s.call(ctx, &seq, "sui_getLatestCheckpointSequenceNumber"); err != nil {
		return 0, fmt.Errorf("sui_getLatestCheckpointSequenceNumber: %w", err)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse checkpoint %q: %w", seq, err)
	}
	return n, nil
}
