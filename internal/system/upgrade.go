package system

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/giok57/lazoooSplash/internal/logging"
)

var (
	// ErrUpgradeInProgress rejects a second concurrent upgrade.
	ErrUpgradeInProgress = errors.New("firmware upgrade already in progress")
	// ErrImageTooLarge is returned when the image exceeds the size limit.
	ErrImageTooLarge = errors.New("firmware image too large")
)

// UpgradeOptions configures an Upgrader.
type UpgradeOptions struct {
	DownloadPath string
	FlashCommand string // split on whitespace; the image path is appended
	MaxSize      int64
	Timeout      time.Duration
}

// Upgrader downloads a firmware image and hands it to the flashing tool.
type Upgrader struct {
	opts    UpgradeOptions
	fs      afero.Fs
	client  *http.Client
	runner  Runner
	logger  *logging.Logger
	sync    func()
	running atomic.Bool
}

// NewUpgrader creates an upgrader writing through fs.
func NewUpgrader(fs afero.Fs, runner Runner, opts UpgradeOptions) *Upgrader {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Minute
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Upgrader{
		opts:   opts,
		fs:     fs,
		client: &http.Client{Timeout: opts.Timeout},
		runner: runner,
		logger: logging.WithComponent("upgrade"),
		sync:   syncFilesystems,
	}
}

// Upgrade fetches url into the download path and runs the flash command.
// The image only appears at the download path once fully written.
func (u *Upgrader) Upgrade(ctx context.Context, url string) error {
	if !u.running.CompareAndSwap(false, true) {
		return ErrUpgradeInProgress
	}
	defer u.running.Store(false)

	u.logger.Audit("firmware_download", url, map[string]any{"path": u.opts.DownloadPath})
	size, err := u.download(ctx, url)
	if err != nil {
		return err
	}
	u.sync()
	u.logger.Info("firmware image downloaded", "bytes", size, "path", u.opts.DownloadPath)

	args := strings.Fields(u.opts.FlashCommand)
	if len(args) == 0 {
		return errors.New("no flash command configured")
	}
	args = append(args, u.opts.DownloadPath)

	u.logger.Audit("firmware_flash", u.opts.DownloadPath, map[string]any{"command": strings.Join(args, " ")})
	code, output, err := u.runner.Run(ctx, args[0], args[1:]...)
	if err != nil {
		return fmt.Errorf("run flash command: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("flash command exited %d: %s", code, strings.TrimSpace(output))
	}
	return nil
}

func (u *Upgrader) download(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download firmware: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("firmware server returned status %d", resp.StatusCode)
	}
	if u.opts.MaxSize > 0 && resp.ContentLength > u.opts.MaxSize {
		return 0, ErrImageTooLarge
	}

	dir := filepath.Dir(u.opts.DownloadPath)
	if err := u.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(u.fs, dir, ".firmware-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = u.fs.Remove(tmpName)
		}
	}()

	var body io.Reader = resp.Body
	if u.opts.MaxSize > 0 {
		body = io.LimitReader(resp.Body, u.opts.MaxSize+1)
	}
	n, err := io.Copy(tmp, body)
	if err == nil && u.opts.MaxSize > 0 && n > u.opts.MaxSize {
		err = ErrImageTooLarge
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(err, ErrImageTooLarge) {
			return 0, err
		}
		return 0, fmt.Errorf("write firmware: %w", err)
	}

	if err := u.fs.Rename(tmpName, u.opts.DownloadPath); err != nil {
		return 0, fmt.Errorf("install firmware image: %w", err)
	}
	committed = true
	return n, nil
}
