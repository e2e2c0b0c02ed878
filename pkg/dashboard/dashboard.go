// Package dashboard provides an embedded web dashboard for monitoring a
// vault node.
//
// The dashboard provides:
//   - An HTML overview with node status and the latest blocks
//   - A JSON API for blocks, transactions and accounts
//   - Decoded vault balance records and per-user vault lookups
//   - Go runtime metrics
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/blockstore"
)

// Config holds dashboard configuration options.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// VaultProgramID is the program whose balance records are decoded.
	VaultProgramID types.Pubkey

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum time to wait for the next request.
	IdleTimeout time.Duration
}

// DefaultConfig returns the default dashboard configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8080",
		VaultProgramID: types.DefaultVaultProgramAddr,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
	}
}

// NodeStats provides node statistics to the dashboard.
type NodeStats interface {
	// Slot returns the slot the ledger is filling.
	Slot() uint64

	// IsRunning returns true if the node is running.
	IsRunning() bool

	// Uptime returns how long the node has been running.
	Uptime() time.Duration

	// GeyserSubscriptions returns the number of open stream subscriptions.
	GeyserSubscriptions() int

	// LastError returns the last error encountered, if any.
	LastError() error
}

// Dashboard is the web dashboard server.
type Dashboard struct {
	config    Config
	log       *logrus.Entry
	blocks    blockstore.Store
	accounts  accounts.DB
	nodeStats NodeStats
	templates *template.Template
	mux       *http.ServeMux
}

// New creates a dashboard reading from blocks and accts. stats may be nil.
func New(config Config, blocks blockstore.Store, accts accounts.DB, stats NodeStats) (*Dashboard, error) {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.VaultProgramID.IsZero() {
		config.VaultProgramID = defaults.VaultProgramID
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}

	tmpl, err := template.New("overview").Funcs(template.FuncMap{
		"formatDuration": formatDuration,
		"formatLamports": formatLamports,
		"formatTime":     formatTime,
		"truncateHash":   truncateHash,
	}).Parse(overviewTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	d := &Dashboard{
		config:    config,
		log:       logrus.StandardLogger().WithField("type", "dashboard"),
		blocks:    blocks,
		accounts:  accts,
		nodeStats: stats,
		templates: tmpl,
		mux:       http.NewServeMux(),
	}

	d.mux.HandleFunc("/", d.handleHome)
	d.mux.HandleFunc("/api/status", d.handleAPIStatus)
	d.mux.HandleFunc("/api/blocks", d.handleAPIBlocks)
	d.mux.HandleFunc("/api/blocks/", d.handleAPIBlock)
	d.mux.HandleFunc("/api/accounts/", d.handleAPIAccount)
	d.mux.HandleFunc("/api/vault/", d.handleAPIVault)
	d.mux.HandleFunc("/api/transactions/", d.handleAPITransaction)
	d.mux.HandleFunc("/api/metrics", d.handleAPIMetrics)
	return d, nil
}

// Handler returns the dashboard's HTTP handler.
func (d *Dashboard) Handler() http.Handler {
	return d.mux
}

// Serve serves the dashboard on lis until ctx is cancelled.
func (d *Dashboard) Serve(ctx context.Context, lis net.Listener) error {
	server := &http.Server{
		Handler:      d.mux,
		ReadTimeout:  d.config.ReadTimeout,
		WriteTimeout: d.config.WriteTimeout,
		IdleTimeout:  d.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	d.log.WithField("addr", lis.Addr().String()).Info("dashboard listening")
	if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHome renders the overview page.
func (d *Dashboard) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	blocks, _ := d.recentBlocks(1, 10)
	data := map[string]interface{}{
		"Status": d.status(),
		"Blocks": blocks,
	}

	var buf strings.Builder
	if err := d.templates.ExecuteTemplate(&buf, "overview", data); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, buf.String())
}

// status collects the current node status.
func (d *Dashboard) status() StatusResponse {
	var resp StatusResponse
	if stats, err := d.blocks.GetStats(); err == nil {
		resp.LatestBlock = stats.LatestSlot
		resp.OldestBlock = stats.OldestSlot
		resp.BlockCount = stats.BlockCount
		resp.TransactionCount = stats.TransactionCount
		resp.DatabaseSize = stats.DatabaseSize
	}
	resp.AccountsCount, _ = d.accounts.AccountsCount()
	if vault, err := d.vaultAddress(); err == nil {
		if account, err := d.accounts.GetAccount(vault); err == nil {
			resp.VaultHoldings = account.Lamports
		}
	}

	if d.nodeStats != nil {
		resp.Slot = d.nodeStats.Slot()
		resp.IsRunning = d.nodeStats.IsRunning()
		uptime := d.nodeStats.Uptime()
		resp.Uptime = formatDuration(uptime)
		resp.UptimeSeconds = uptime.Seconds()
		resp.GeyserSubscriptions = d.nodeStats.GeyserSubscriptions()
		if err := d.nodeStats.LastError(); err != nil {
			resp.LastError = err.Error()
		}
	}
	return resp
}

// recentBlocks returns one page of blocks, newest first, and the number of
// pages.
func (d *Dashboard) recentBlocks(page, perPage int) ([]blockstore.Block, int) {
	stats, err := d.blocks.GetStats()
	if err != nil || stats.BlockCount == 0 {
		return nil, 0
	}

	totalSlots := stats.LatestSlot - stats.OldestSlot + 1
	totalPages := int((totalSlots + uint64(perPage) - 1) / uint64(perPage))
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}

	offset := uint64((page - 1) * perPage)
	if offset > stats.LatestSlot-stats.OldestSlot {
		return nil, totalPages
	}
	startSlot := stats.LatestSlot - offset

	var blocks []blockstore.Block
	for slot := startSlot; len(blocks) < perPage; slot-- {
		if block, err := d.blocks.GetBlock(slot); err == nil {
			blocks = append(blocks, *block)
		}
		if slot == stats.OldestSlot {
			break
		}
	}
	return blocks, totalPages
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Template helper functions

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// formatLamports renders lamports as whole XNT with nine decimals.
func formatLamports(lamports uint64) string {
	return fmt.Sprintf("%d.%09d", lamports/1_000_000_000, lamports%1_000_000_000)
}

func formatTime(unix int64) string {
	if unix == 0 {
		return "N/A"
	}
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

func truncateHash(s string, n int) string {
	if len(s) <= n*2+3 {
		return s
	}
	return s[:n] + "..." + s[len(s)-n:]
}

// getMemStats returns current memory statistics.
func getMemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}
