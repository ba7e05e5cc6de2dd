package ipc

import (
	stdjson "encoding/json"
	"fmt"

	"github.com/segmentio/encoding/json"

	"github.com/lexcodex/ccindex/framework/db"
)

// Tag identifies the payload schema of a frame.
type Tag uint32

const (
	TagIsAlive Tag = iota + 1
	TagIsAliveReply
	TagIndexJob
	TagIndexResult
	TagQueryRequest
	TagQueryResponse
	TagQuit
)

func (t Tag) String() string {
	switch t {
	case TagIsAlive:
		return "is_alive"
	case TagIsAliveReply:
		return "is_alive_reply"
	case TagIndexJob:
		return "index_job"
	case TagIndexResult:
		return "index_result"
	case TagQueryRequest:
		return "query_request"
	case TagQueryResponse:
		return "query_response"
	case TagQuit:
		return "quit"
	default:
		return fmt.Sprintf("tag(%d)", uint32(t))
	}
}

// Message is the closed set of values that travel over a Queue.
type Message interface {
	Tag() Tag
	isMessage()
}

// IsAlive opens a handshake.
type IsAlive struct {
	Sender string `json:"sender"`
}

// IsAliveReply answers IsAlive.
type IsAliveReply struct {
	Sender string `json:"sender"`
}

// IndexJob asks a worker to index one translation unit.
type IndexJob struct {
	Path       string   `json:"path"`
	Args       []string `json:"args,omitempty"`
	Generation uint64   `json:"generation"`
	// Force reindexes even when the file content is unchanged, as after an
	// included header changed.
	Force bool `json:"force,omitempty"`
}

// IndexResult reports a finished job. Update is nil when the job was skipped
// or failed.
type IndexResult struct {
	Worker     string          `json:"worker,omitempty"`
	Path       string          `json:"path"`
	Generation uint64          `json:"generation"`
	Update     *db.IndexUpdate `json:"update,omitempty"`
	// Files is every file the translation unit pulled in.
	Files   []string `json:"files,omitempty"`
	Skipped bool     `json:"skipped,omitempty"`
	Err     string   `json:"error,omitempty"`
}

// QueryRequest forwards an editor request to the database owner.
type QueryRequest struct {
	ID     string             `json:"id"`
	Method string             `json:"method"`
	Params stdjson.RawMessage `json:"params,omitempty"`
}

// QueryResponse carries the answer to a QueryRequest with the same ID.
type QueryResponse struct {
	ID     string             `json:"id"`
	Result stdjson.RawMessage `json:"result,omitempty"`
	// Code is the JSON-RPC error code when Error is set.
	Code  int64  `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Quit asks the receiver to shut down.
type Quit struct{}

func (IsAlive) Tag() Tag       { return TagIsAlive }
func (IsAliveReply) Tag() Tag  { return TagIsAliveReply }
func (IndexJob) Tag() Tag      { return TagIndexJob }
func (IndexResult) Tag() Tag   { return TagIndexResult }
func (QueryRequest) Tag() Tag  { return TagQueryRequest }
func (QueryResponse) Tag() Tag { return TagQueryResponse }
func (Quit) Tag() Tag          { return TagQuit }

func (IsAlive) isMessage()       {}
func (IsAliveReply) isMessage()  {}
func (IndexJob) isMessage()      {}
func (IndexResult) isMessage()   {}
func (QueryRequest) isMessage()  {}
func (QueryResponse) isMessage() {}
func (Quit) isMessage()          {}

type decoder func(payload []byte) (Message, error)

// Registry maps tags to payload decoders. Build it once with NewRegistry and
// hand it to every queue.
type Registry struct {
	decoders map[Tag]decoder
}

// NewRegistry returns a registry holding every message kind.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[Tag]decoder)}
	register[IsAlive](r)
	register[IsAliveReply](r)
	register[IndexJob](r)
	register[IndexResult](r)
	register[QueryRequest](r)
	register[QueryResponse](r)
	register[Quit](r)
	return r
}

func register[T Message](r *Registry) {
	var zero T
	r.decoders[zero.Tag()] = func(payload []byte) (Message, error) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Encode serializes msg, refusing kinds the registry does not know.
func (r *Registry) Encode(msg Message) (Tag, []byte, error) {
	tag := msg.Tag()
	if _, ok := r.decoders[tag]; !ok {
		return 0, nil, &ProtocolError{Reason: "unregistered message", Tag: tag}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, nil, fmt.Errorf("ipc: encode %s: %w", tag, err)
	}
	return tag, payload, nil
}

// Decode parses one payload.
func (r *Registry) Decode(tag Tag, payload []byte) (Message, error) {
	dec, ok := r.decoders[tag]
	if !ok {
		return nil, &ProtocolError{Reason: "unknown message tag", Tag: tag}
	}
	msg, err := dec(payload)
	if err != nil {
		return nil, &ProtocolError{Reason: "malformed payload", Tag: tag, Err: err}
	}
	return msg, nil
}
