// Package handler wires the planner and scheduler into the user facing
// transfer commands: upload, download and the two full-sync directions.
package handler

import (
	"context"
	"fmt"
	"sort"

	"github.com/openmined/syftxfer/internal/config"
	"github.com/openmined/syftxfer/internal/transfer"
)

type Strategy int

const (
	// StrategyCopy mirrors the source onto the target and never deletes
	StrategyCopy Strategy = iota
	// StrategySync makes the target an exact mirror of the source
	StrategySync
)

func (s Strategy) String() string {
	if s == StrategySync {
		return "sync"
	}
	return "copy"
}

// Target selects what to transfer. Both paths are relative to the configured
// roots; empty means the root itself.
type Target struct {
	LocalPath  string `json:"localPath"`
	RemotePath string `json:"remotePath"`
}

func (t Target) clean() Target {
	return Target{LocalPath: transfer.CleanPath(t.LocalPath), RemotePath: transfer.CleanPath(t.RemotePath)}
}

// HandleContext is what option transforms and after hooks see of a run
type HandleContext struct {
	Config    *config.Config
	Endpoints transfer.Endpoints
	Target    Target
	Ignore    transfer.IgnoreFunc
	Report    *Report

	notify NotifyFunc
}

// Refresh tells the notifier that a remote path changed
func (hc *HandleContext) Refresh(path string, recursive bool) {
	if hc.notify == nil {
		return
	}
	hc.notify(Refresh{Path: path, Recursive: recursive, Handler: hc.Report.Handler})
}

type Handler struct {
	Name      string
	Direction transfer.Direction
	Strategy  Strategy

	// Expect restricts the kind of the source root. Empty accepts any kind.
	Expect transfer.NodeKind

	TransformOption func(hc *HandleContext) transfer.SyncOptions

	// AfterHandle runs once the scheduler finished, when at least one operation succeeded
	AfterHandle func(ctx context.Context, hc *HandleContext) error
}

func (h *Handler) String() string {
	return fmt.Sprintf("%s (%s, %s)", h.Name, h.Strategy, h.Direction)
}

// uploadOptions preserves permission bits only when the remote can store them
func uploadOptions(hc *HandleContext) transfer.SyncOptions {
	return transfer.SyncOptions{
		TransferOptions: transfer.TransferOptions{
			Ignore:             hc.Ignore,
			PreserveTargetMode: hc.Config.SupportsMode(),
		},
	}
}

func downloadOptions(hc *HandleContext) transfer.SyncOptions {
	return transfer.SyncOptions{
		TransferOptions: transfer.TransferOptions{Ignore: hc.Ignore},
	}
}

func refreshRemote(recursive bool) func(context.Context, *HandleContext) error {
	return func(_ context.Context, hc *HandleContext) error {
		hc.Refresh(hc.Target.RemotePath, recursive)
		return nil
	}
}

// refreshUploaded refreshes recursively when the uploaded root was a directory
func refreshUploaded(ctx context.Context, hc *HandleContext) error {
	node, err := hc.Endpoints.Local.Stat(ctx, hc.Target.LocalPath)
	if err != nil {
		return err
	}
	hc.Refresh(hc.Target.RemotePath, node.IsDir())
	return nil
}

var (
	Upload = &Handler{
		Name:            "upload",
		Direction:       transfer.LocalToRemote,
		Strategy:        StrategyCopy,
		TransformOption: uploadOptions,
		AfterHandle:     refreshUploaded,
	}

	UploadFile = &Handler{
		Name:            "upload file",
		Direction:       transfer.LocalToRemote,
		Strategy:        StrategyCopy,
		Expect:          transfer.KindFile,
		TransformOption: uploadOptions,
		AfterHandle:     refreshRemote(false),
	}

	UploadFolder = &Handler{
		Name:            "upload folder",
		Direction:       transfer.LocalToRemote,
		Strategy:        StrategyCopy,
		Expect:          transfer.KindDirectory,
		TransformOption: uploadOptions,
		AfterHandle:     refreshRemote(true),
	}

	Download = &Handler{
		Name:            "download",
		Direction:       transfer.RemoteToLocal,
		Strategy:        StrategyCopy,
		TransformOption: downloadOptions,
	}

	DownloadFile = &Handler{
		Name:            "download file",
		Direction:       transfer.RemoteToLocal,
		Strategy:        StrategyCopy,
		Expect:          transfer.KindFile,
		TransformOption: downloadOptions,
	}

	DownloadFolder = &Handler{
		Name:            "download folder",
		Direction:       transfer.RemoteToLocal,
		Strategy:        StrategyCopy,
		Expect:          transfer.KindDirectory,
		TransformOption: downloadOptions,
	}

	SyncToRemote = &Handler{
		Name:      "sync to remote",
		Direction: transfer.LocalToRemote,
		Strategy:  StrategySync,
		TransformOption: func(hc *HandleContext) transfer.SyncOptions {
			opts := uploadOptions(hc)
			opts.Model = transfer.SyncModelFull
			return opts
		},
		AfterHandle: refreshRemote(true),
	}

	SyncToLocal = &Handler{
		Name:      "sync to local",
		Direction: transfer.RemoteToLocal,
		Strategy:  StrategySync,
		TransformOption: func(hc *HandleContext) transfer.SyncOptions {
			opts := downloadOptions(hc)
			opts.Model = transfer.SyncModelFull
			return opts
		},
	}
)

var handlers = map[string]*Handler{}

func init() {
	for _, h := range []*Handler{Upload, UploadFile, UploadFolder, Download, DownloadFile, DownloadFolder, SyncToRemote, SyncToLocal} {
		handlers[h.Name] = h
	}
}

// Lookup returns the handler registered under name
func Lookup(name string) (*Handler, bool) {
	h, ok := handlers[name]
	return h, ok
}

// Names lists the registered handler names in sorted order
func Names() []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
