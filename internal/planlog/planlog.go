// Package planlog writes reconfiguration artifacts to the log directory.
// I/O failures are logged and never interrupt scheduling.
package planlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/domain"
)

const (
	planDir     = "ffd/reconfiguration"
	snapshotDir = "scheduler/to_check"
	confDir     = "simulator"
)

// Writer writes plans, per-pass host snapshots and configuration dumps under a
// root directory. A Writer with an empty root writes nothing.
type Writer struct {
	root   string
	now    func() time.Time
	logger *zap.Logger
}

// New creates a plan log writer rooted at dir.
func New(dir string, logger *zap.Logger) *Writer {
	return &Writer{
		root:   dir,
		now:    time.Now,
		logger: logger.With(zap.String("component", "planlog")),
	}
}

// Enabled returns true if the writer has a root directory.
func (w *Writer) Enabled() bool {
	return w.root != ""
}

// Clean removes the artifacts of a previous run.
func (w *Writer) Clean() {
	if !w.Enabled() {
		return
	}
	for _, dir := range []string{planDir, snapshotDir, confDir} {
		if err := os.RemoveAll(filepath.Join(w.root, dir)); err != nil {
			w.logger.Warn("Failed to clean log directory", zap.String("dir", dir), zap.Error(err))
		}
	}
}

// PlanPath returns the file a plan of the given scheduler instance is written to.
func (w *Writer) PlanPath(instanceID string) string {
	return filepath.Join(w.root, planDir, instanceID+".txt")
}

// SnapshotPath returns the file the host snapshot of a pass is written to.
func (w *Writer) SnapshotPath(pass int) string {
	return filepath.Join(w.root, snapshotDir, strconv.Itoa(pass)+".txt")
}

// WritePlan writes one line per migration.
func (w *Writer) WritePlan(instanceID string, migrations []domain.Migration) {
	w.write(w.PlanPath(instanceID), func(b *bufio.Writer) error {
		for _, m := range migrations {
			if _, err := fmt.Fprintln(b, m.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteSnapshot writes the hosts a pass is about to check, each followed by its VMs.
func (w *Writer) WriteSnapshot(pass int, hosts []*domain.Host) {
	w.write(w.SnapshotPath(pass), func(b *bufio.Writer) error {
		for _, h := range hosts {
			if _, err := fmt.Fprintf(b, "%s (%s) cpu=%.2f/%.0f mem=%d/%d\n",
				h.Name, power(h), h.CPUDemand(), h.CPUCapacity(), h.MemDemand(), h.MemoryMiB); err != nil {
				return err
			}
			for _, vm := range h.VMs {
				if _, err := fmt.Fprintf(b, "\t%s cores=%d cpu=%.2f load=%.2f mem=%d\n",
					vm.Name, vm.Cores, vm.CPUDemand, vm.Load(), vm.MemoryMiB); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ConfigurationPath returns the file the configuration after a scheduler instance is
// dumped to. Pass and instance keep dumps written in the same millisecond apart.
func (w *Writer) ConfigurationPath(pass int, instanceID string) string {
	name := fmt.Sprintf("conf-%d-%d-%s.txt", w.now().UnixMilli(), pass, instanceID)
	return filepath.Join(w.root, confDir, name)
}

// WriteConfiguration dumps every host with its demand, capacity and VMs.
func (w *Writer) WriteConfiguration(pass int, instanceID string, hosts []*domain.Host) {
	w.write(w.ConfigurationPath(pass, instanceID), func(b *bufio.Writer) error {
		for _, h := range hosts {
			if _, err := fmt.Fprintf(b, "%s (%s) (%.2f/%.0f, %d/%d):",
				h.Name, power(h), h.CPUDemand(), h.CPUCapacity(), h.MemDemand(), h.MemoryMiB); err != nil {
				return err
			}
			for _, vm := range h.VMs {
				if _, err := fmt.Fprintf(b, " %s", vm.Name); err != nil {
					return err
				}
			}
			if err := b.WriteByte('\n'); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) write(path string, fill func(*bufio.Writer) error) {
	if !w.Enabled() {
		return
	}
	if err := writeFile(path, fill); err != nil {
		w.logger.Warn("Failed to write log file", zap.String("path", path), zap.Error(err))
	}
}

func writeFile(path string, fill func(*bufio.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	b := bufio.NewWriter(f)
	if err := fill(b); err != nil {
		return err
	}
	return b.Flush()
}

func power(h *domain.Host) string {
	if h.IsOn() {
		return "on"
	}
	return "off"
}
