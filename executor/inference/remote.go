package inference

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brensch/cchess/executor/convert"
	"github.com/brensch/cchess/game"
)

const (
	frameOK    byte = 0
	frameError byte = 1

	responseHeader = 9
	// errorFrameLimit bounds an error frame's message.
	errorFrameLimit = 64 * 1024
)

// requestLimit is the largest request frame for a batch of n inputs.
func requestLimit(n int) int64 {
	return 4 + int64(n)*convert.BufferSize
}

// responseLimit is the largest response frame for a batch of n inputs.
func responseLimit(n int) int64 {
	return max(responseHeader+int64(n)*int64(1+game.NumActions)*4, errorFrameLimit)
}

type RemoteConfig struct {
	URL            string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	DialAttempts   uint
}

// RemoteOracle evaluates batches on an oracle server over a websocket.
// One request is outstanding per connection; a Batcher in front of it
// guarantees that.
type RemoteOracle struct {
	cfg    RemoteConfig
	dialer websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewRemoteOracle(cfg RemoteConfig) *RemoteOracle {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = 5
	}
	return &RemoteOracle{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
	}
}

func (r *RemoteOracle) connect(ctx context.Context) (*websocket.Conn, error) {
	if r.conn != nil {
		return r.conn, nil
	}
	logger := zerolog.Ctx(ctx)
	var conn *websocket.Conn
	err := retry.Do(
		func() error {
			c, _, err := r.dialer.DialContext(ctx, r.cfg.URL, nil)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.cfg.DialAttempts),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			logger.Warn().Err(err).Uint("n", n).Str("url", r.cfg.URL).Msg("oracle-dial-failed-retrying")
			return retry.BackOffDelay(n, err, config)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial oracle %s: %w", r.cfg.URL, err)
	}
	r.conn = conn
	return conn, nil
}

func (r *RemoteOracle) dropConn() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

func (r *RemoteOracle) Predict(ctx context.Context, batch [][]float32) ([]Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(r.cfg.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)
	conn.SetReadLimit(responseLimit(len(batch)))

	if err := conn.WriteMessage(websocket.BinaryMessage, encodeRequest(batch)); err != nil {
		r.dropConn()
		return nil, fmt.Errorf("write request: %w", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		r.dropConn()
		return nil, fmt.Errorf("read response: %w", err)
	}
	return decodeResponse(msg, len(batch))
}

func (r *RemoteOracle) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	_ = r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := r.conn.Close()
	r.conn = nil
	return err
}

// Handler serves an Oracle to RemoteOracle clients.
type Handler struct {
	Oracle   Oracle
	// MaxBatch caps the inputs in one request; larger frames close the
	// connection.
	MaxBatch int
	upgrader websocket.Upgrader
}

func NewHandler(o Oracle) *Handler {
	return &Handler{
		Oracle:   o,
		MaxBatch: DefaultBatchLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  convert.BufferSize,
			WriteBufferSize: 64 * 1024,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	maxBatch := h.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultBatchLimit
	}
	conn.SetReadLimit(requestLimit(maxBatch))

	logger := log.With().Str("remote", req.RemoteAddr).Logger()
	logger.Info().Msg("oracle client connected")
	ctx := logger.WithContext(req.Context())

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("oracle client read failed")
			}
			return
		}

		var out []byte
		batch, err := decodeRequest(msg, maxBatch)
		if err == nil {
			var preds []Prediction
			preds, err = h.Oracle.Predict(ctx, batch)
			if err == nil {
				out, err = encodeResponse(preds)
			}
		}
		if err != nil {
			logger.Error().Err(err).Msg("oracle request failed")
			out = append([]byte{frameError}, err.Error()...)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
			logger.Warn().Err(err).Msg("oracle client write failed")
			return
		}
	}
}

// Request frame: uint32 batch size, then each input as little-endian float32.
func encodeRequest(batch [][]float32) []byte {
	out := make([]byte, 4, 4+len(batch)*convert.BufferSize)
	binary.LittleEndian.PutUint32(out, uint32(len(batch)))
	for _, planes := range batch {
		b := convert.PlanesToBytes(planes)
		out = append(out, *b...)
		convert.PutBuffer(b)
	}
	return out
}

func decodeRequest(msg []byte, maxBatch int) ([][]float32, error) {
	if len(msg) < 4 {
		return nil, errors.New("short request frame")
	}
	n := binary.LittleEndian.Uint32(msg)
	if uint64(n) > uint64(maxBatch) {
		return nil, fmt.Errorf("request of %d inputs exceeds the batch limit %d", n, maxBatch)
	}
	body := msg[4:]
	if len(body)%convert.BufferSize != 0 || uint64(len(body)/convert.BufferSize) != uint64(n) {
		return nil, fmt.Errorf("request frame has %d bytes for %d inputs", len(body), n)
	}
	batch := make([][]float32, n)
	for i := range batch {
		planes, err := convert.BytesToPlanes(body[i*convert.BufferSize : (i+1)*convert.BufferSize])
		if err != nil {
			return nil, err
		}
		batch[i] = planes
	}
	return batch, nil
}

// Response frame: frameOK, uint32 count, uint32 policy size, then per result
// the value followed by the policy. Error frames carry a message instead.
func encodeResponse(preds []Prediction) ([]byte, error) {
	policySize := 0
	if len(preds) > 0 {
		policySize = len(preds[0].Policy)
	}
	out := make([]byte, responseHeader, responseHeader+len(preds)*(1+policySize)*4)
	out[0] = frameOK
	binary.LittleEndian.PutUint32(out[1:], uint32(len(preds)))
	binary.LittleEndian.PutUint32(out[5:], uint32(policySize))
	for i, p := range preds {
		if len(p.Policy) != policySize {
			return nil, fmt.Errorf("%w: result %d has policy length %d", ErrMalformedResponse, i, len(p.Policy))
		}
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(p.Value))
		for _, v := range p.Policy {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	return out, nil
}

// decodeResponse parses a response to a request of want inputs.
func decodeResponse(msg []byte, want int) ([]Prediction, error) {
	if len(msg) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedResponse)
	}
	if msg[0] == frameError {
		return nil, fmt.Errorf("oracle server: %s", msg[1:])
	}
	if msg[0] != frameOK || len(msg) < responseHeader {
		return nil, fmt.Errorf("%w: bad header", ErrMalformedResponse)
	}
	// Both header fields are checked before they size anything.
	count := binary.LittleEndian.Uint32(msg[1:])
	size := binary.LittleEndian.Uint32(msg[5:])
	if uint64(count) != uint64(want) {
		return nil, fmt.Errorf("%w: %d results for %d inputs", ErrMalformedResponse, count, want)
	}
	if count > 0 && uint64(size) != uint64(game.NumActions) {
		return nil, fmt.Errorf("%w: policy size %d, want %d", ErrMalformedResponse, size, game.NumActions)
	}
	n, policySize := int(count), int(size)
	body := msg[responseHeader:]
	if len(body) != n*(1+policySize)*4 {
		return nil, fmt.Errorf("%w: %d bytes for %d results", ErrMalformedResponse, len(body), n)
	}
	out := make([]Prediction, n)
	off := 0
	next := func() float32 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
		off += 4
		return v
	}
	for i := range out {
		out[i].Value = next()
		out[i].Policy = make([]float32, policySize)
		for j := range out[i].Policy {
			out[i].Policy[j] = next()
		}
	}
	return out, nil
}
