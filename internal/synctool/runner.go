package synctool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/curriculum/internal/curriculum"
	"github.com/pterm/pterm"
	"go.uber.org/zap"
)

// Mode selects what a sync run does with the built manifest.
type Mode string

const (
	ModeWrite  Mode = "write"
	ModeDryRun Mode = "dry-run"
	ModeCheck  Mode = "check"
	ModePush   Mode = "push"
	ModeExport Mode = "export"
)

var errRemoteRequired = errors.New("push and export need a server url and token")

// RunOptions describes one invocation of the sync tool.
type RunOptions struct {
	Mode         Mode
	SourcePath   string
	ManifestPath string
	ExportPath   string
	Sync         curriculum.SyncOptions
}

// RunnerConfig wires the runner's collaborators.
type RunnerConfig struct {
	Client *Client
	Clock  func() time.Time
	Output io.Writer
	Logger *zap.Logger
}

// Runner executes sync tool modes.
type Runner struct {
	client *Client
	clock  func() time.Time
	output io.Writer
	logger *zap.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{client: cfg.Client, clock: clock, output: output, logger: logger}
}

// Run executes options.Mode. ModeCheck returns ErrManifestDrift after printing the diff when the
// committed manifest is stale.
func (r *Runner) Run(ctx context.Context, options RunOptions) error {
	if options.Mode == ModeExport {
		return r.export(ctx, options.ExportPath)
	}

	source, err := LoadSource(options.SourcePath)
	if err != nil {
		return err
	}
	manifest, err := BuildManifest(source, r.clock())
	if err != nil {
		return err
	}
	r.logger.Debug("manifest built",
		zap.String("source", options.SourcePath),
		zap.Int("units", len(manifest.Units)),
		zap.Int("topics", len(manifest.Topics)),
		zap.Int("lessons", len(manifest.Lessons)))

	switch options.Mode {
	case ModeDryRun:
		hash, err := curriculum.HashManifest(manifest)
		if err != nil {
			return err
		}
		pterm.Fprintln(r.output, pterm.Info.Sprintf("dry run: %d units, %d topics, %d lessons (hash %s); nothing written",
			len(manifest.Units), len(manifest.Topics), len(manifest.Lessons), hash))
		return nil
	case ModeCheck:
		return r.check(manifest, options.ManifestPath)
	case ModePush:
		return r.push(ctx, manifest, options.Sync)
	case ModeWrite, "":
		if err := WriteManifestFile(options.ManifestPath, manifest); err != nil {
			return err
		}
		r.logger.Info("manifest written", zap.String("path", options.ManifestPath))
		pterm.Fprintln(r.output, pterm.Success.Sprintf("wrote %s", options.ManifestPath))
		return nil
	default:
		return fmt.Errorf("unknown sync mode %q", options.Mode)
	}
}

func (r *Runner) check(manifest curriculum.Manifest, manifestPath string) error {
	committed, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("read committed manifest: %w", err)
	}
	diff, err := CheckDrift(manifest, committed, manifestPath)
	if errors.Is(err, ErrManifestDrift) {
		fmt.Fprint(r.output, diff)
		pterm.Fprintln(r.output, pterm.Error.Sprintf("%s is out of date; rerun curriculum-sync", manifestPath))
		return err
	}
	if err != nil {
		return err
	}
	pterm.Fprintln(r.output, pterm.Success.Sprintf("%s is up to date", manifestPath))
	return nil
}

func (r *Runner) push(ctx context.Context, manifest curriculum.Manifest, options curriculum.SyncOptions) error {
	if r.client == nil {
		return errRemoteRequired
	}
	summary, err := r.client.Push(ctx, manifest, options)
	if err != nil {
		return err
	}
	r.logger.Info("manifest pushed", zap.String("hash", summary.ManifestHash))
	return RenderSummary(r.output, summary)
}

func (r *Runner) export(ctx context.Context, exportPath string) error {
	if r.client == nil {
		return errRemoteRequired
	}
	manifest, err := r.client.Export(ctx)
	if err != nil {
		return err
	}
	if err := WriteManifestFile(exportPath, manifest); err != nil {
		return err
	}
	pterm.Fprintln(r.output, pterm.Success.Sprintf("exported %d units, %d topics, %d lessons to %s",
		len(manifest.Units), len(manifest.Topics), len(manifest.Lessons), exportPath))
	return nil
}

// RenderSummary prints a sync summary as a table.
func RenderSummary(output io.Writer, summary curriculum.SyncSummary) error {
	data := pterm.TableData{
		{"Entity", "Created", "Updated", "Deleted", "Skipped"},
		summaryRow("units", summary.Units, 0),
		summaryRow("topics", summary.Topics, summary.Skipped.Topics),
		summaryRow("lessons", summary.Lessons, summary.Skipped.Lessons),
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	pterm.Fprintln(output, table)
	commit := "-"
	if summary.ManifestCommit != nil {
		commit = *summary.ManifestCommit
	}
	pterm.Fprintln(output, fmt.Sprintf("manifest %s generated %s commit %s",
		summary.ManifestHash, summary.ManifestGeneratedAt, commit))
	return nil
}

func summaryRow(entity string, counts curriculum.EntityCounts, skipped int) []string {
	return []string{
		entity,
		strconv.Itoa(counts.Created),
		strconv.Itoa(counts.Updated),
		strconv.Itoa(counts.Deleted),
		strconv.Itoa(skipped),
	}
}
