// Package api exposes the engine over HTTP and a WebSocket command channel.
//
// Every operation is a named command run through one Dispatcher, so the REST
// routes and the WebSocket envelope share argument decoding, the worker
// limit, metrics and error mapping.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"

	"ohlcv-engine/internal/ingest"
	"ohlcv-engine/internal/logger"
	"ohlcv-engine/internal/marketdata/resample"
	"ohlcv-engine/internal/metrics"
	"ohlcv-engine/internal/model"
	"ohlcv-engine/internal/prefs"
)

// Command names accepted by the dispatcher.
const (
	CmdIngest        = "ingest_csv"
	CmdResample      = "resample_dataset"
	CmdIndicators    = "compute_indicators"
	CmdClearCache    = "clear_cache"
	CmdCacheStatus   = "cache_status"
	CmdListHistory   = "list_dataset_history"
	CmdRecordHistory = "record_dataset_history"
	CmdListPresets   = "list_presets"
	CmdSavePreset    = "save_preset"
	CmdLoadPreset    = "load_preset"
	CmdDeletePreset  = "delete_preset"
	CmdIntervals     = "list_intervals"
)

// Request is the WebSocket command envelope.
type Request struct {
	ID   string          `json:"id"`
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response answers one Request. Exactly one of Data and Error is set.
type Response struct {
	ID    string     `json:"id"`
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Dispatcher routes commands to the ingest service and the preferences store.
type Dispatcher struct {
	svc     *ingest.Service
	prefs   prefs.Store
	metrics *metrics.Metrics
	sem     *semaphore.Weighted
	log     *slog.Logger

	commands map[string]handlerFunc
}

// NewDispatcher runs at most workers commands at once.
func NewDispatcher(svc *ingest.Service, store prefs.Store, m *metrics.Metrics, workers int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		svc:     svc,
		prefs:   store,
		metrics: m,
		sem:     semaphore.NewWeighted(int64(max(workers, 1))),
		log:     log,
	}
	d.commands = map[string]handlerFunc{
		CmdIngest:        d.ingest,
		CmdResample:      d.resample,
		CmdIndicators:    d.indicators,
		CmdClearCache:    d.clearCache,
		CmdCacheStatus:   d.cacheStatus,
		CmdListHistory:   d.listHistory,
		CmdRecordHistory: d.recordHistory,
		CmdListPresets:   d.listPresets,
		CmdSavePreset:    d.savePreset,
		CmdLoadPreset:    d.loadPreset,
		CmdDeletePreset:  d.deletePreset,
		CmdIntervals:     d.intervals,
	}
	return d
}

// Run executes one command. It waits for a worker slot or ctx.
func (d *Dispatcher) Run(ctx context.Context, cmd string, args json.RawMessage) (any, error) {
	h, ok := d.commands[cmd]
	if !ok {
		d.metrics.CommandsTotal.WithLabelValues("unknown", "error").Inc()
		return nil, badRequestf("unknown command %q", cmd)
	}
	if logger.TraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, logger.NewTraceID(cmd))
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.metrics.CommandsTotal.WithLabelValues(cmd, "error").Inc()
		return nil, err
	}
	defer d.sem.Release(1)

	d.metrics.CommandsInFlight.Inc()
	start := time.Now()
	data, err := h(ctx, args)
	d.metrics.CommandsInFlight.Dec()

	status := "ok"
	if err != nil {
		status = "error"
		d.log.Warn("command failed", append(logger.LogWithTrace(ctx),
			"cmd", cmd, "error", err, "ms", time.Since(start).Milliseconds())...)
	} else {
		d.log.Debug("command done", append(logger.LogWithTrace(ctx),
			"cmd", cmd, "ms", time.Since(start).Milliseconds())...)
	}
	d.metrics.CommandsTotal.WithLabelValues(cmd, status).Inc()
	return data, err
}

// Dispatch decodes a raw envelope, runs it and builds the response. A
// malformed envelope still gets a response, carrying whatever id was readable.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) Response {
	if !gjson.ValidBytes(raw) {
		return errorResponse("", badRequestf("malformed request"))
	}
	env := gjson.ParseBytes(raw)
	id := env.Get("id").String()
	cmd := env.Get("cmd").String()
	if cmd == "" {
		return errorResponse(id, badRequestf("cmd is required"))
	}

	var args json.RawMessage
	if a := env.Get("args"); a.Exists() {
		args = json.RawMessage(a.Raw)
	}
	if id != "" {
		ctx = logger.WithTraceID(ctx, id)
	}

	data, err := d.Run(ctx, cmd, args)
	if err != nil {
		return errorResponse(id, err)
	}
	return Response{ID: id, OK: true, Data: data}
}

func errorResponse(id string, err error) Response {
	body := errorBody(err)
	return Response{ID: id, OK: false, Error: &body}
}

// decode unmarshals args into v. Empty args leave v at its zero value.
func decode(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return badRequestf("invalid args: %v", err)
	}
	return nil
}

type pathArgs struct {
	Path string `json:"path"`
}

type nameArgs struct {
	Name string `json:"name"`
}

// datasetArgs names the input of resample and indicator commands: either an
// inline dataset or a path to ingest first.
type datasetArgs struct {
	Dataset *model.DataSet `json:"dataset"`
	Path    string         `json:"path"`
	Target  string         `json:"target"`
}

// resolve returns the dataset to work on. ingested is true only when it was
// loaded from a.Path in this call; inline datasets are never trusted to
// match the file their source_path names.
func (d *Dispatcher) resolve(ctx context.Context, a datasetArgs) (ds model.DataSet, ingested bool, err error) {
	if a.Dataset != nil {
		return *a.Dataset, false, nil
	}
	if a.Path == "" {
		return model.DataSet{}, false, badRequestf("dataset or path is required")
	}
	res, err := d.svc.Ingest(ctx, a.Path)
	if err != nil {
		return model.DataSet{}, false, err
	}
	return res.Dataset, true, nil
}

func (d *Dispatcher) ingest(ctx context.Context, args json.RawMessage) (any, error) {
	var a pathArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, badRequestf("path is required")
	}
	return d.svc.Ingest(ctx, a.Path)
}

func (d *Dispatcher) resample(ctx context.Context, args json.RawMessage) (any, error) {
	var a datasetArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	if a.Target == "" {
		return nil, badRequestf("target is required")
	}
	if _, err := resample.ParseInterval(a.Target); err != nil {
		return nil, err
	}
	ds, ingested, err := d.resolve(ctx, a)
	if err != nil {
		return nil, err
	}
	if !ingested {
		return d.svc.ResampleInline(ctx, ds, a.Target)
	}
	return d.svc.Resample(ctx, ds, a.Target)
}

func (d *Dispatcher) indicators(ctx context.Context, args json.RawMessage) (any, error) {
	var a datasetArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	ds, ingested, err := d.resolve(ctx, a)
	if err != nil {
		return nil, err
	}
	if !ingested {
		return d.svc.IndicatorsInline(ctx, ds), nil
	}
	return d.svc.Indicators(ctx, ds), nil
}

func (d *Dispatcher) clearCache(ctx context.Context, _ json.RawMessage) (any, error) {
	n, err := d.svc.ClearCache(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{"removed": n}, nil
}

func (d *Dispatcher) cacheStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	return d.svc.CacheStatus(ctx)
}

func (d *Dispatcher) listHistory(ctx context.Context, _ json.RawMessage) (any, error) {
	return d.prefs.History(ctx)
}

func (d *Dispatcher) recordHistory(ctx context.Context, args json.RawMessage) (any, error) {
	var a pathArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	return d.prefs.RecordHistory(ctx, a.Path)
}

func (d *Dispatcher) listPresets(ctx context.Context, _ json.RawMessage) (any, error) {
	return d.prefs.Presets(ctx)
}

func (d *Dispatcher) savePreset(ctx context.Context, args json.RawMessage) (any, error) {
	var p prefs.Preset
	if err := decode(args, &p); err != nil {
		return nil, err
	}
	if err := d.prefs.SavePreset(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Dispatcher) loadPreset(ctx context.Context, args json.RawMessage) (any, error) {
	var a nameArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	return d.prefs.LoadPreset(ctx, a.Name)
}

func (d *Dispatcher) deletePreset(ctx context.Context, args json.RawMessage) (any, error) {
	var a nameArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	removed, err := d.prefs.DeletePreset(ctx, a.Name)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": removed}, nil
}

func (d *Dispatcher) intervals(context.Context, json.RawMessage) (any, error) {
	out := make([]string, 0, len(resample.Intervals()))
	for _, iv := range resample.Intervals() {
		out = append(out, iv.String())
	}
	return out, nil
}

// badRequest marks caller mistakes that are not engine errors.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func badRequestf(format string, a ...any) error {
	return &badRequest{msg: fmt.Sprintf(format, a...)}
}

func isBadRequest(err error) bool {
	var b *badRequest
	return errors.As(err, &b)
}
