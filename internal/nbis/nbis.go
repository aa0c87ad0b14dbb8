// Package nbis wraps the NBIS fingerprint tools (mindtct, bozorth3).
// The binaries are opaque collaborators: this package only speaks their
// file-based input/output contract and never interprets minutiae beyond
// counting them for the quality score.
package nbis

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/checador/device/config"
)

// Tools runs the configured NBIS binaries with bounded timeouts.
type Tools struct {
	mindtct        string
	bozorth3       string
	workDir        string
	extractTimeout time.Duration
	matchTimeout   time.Duration
}

// New constructs Tools from the fingerprint config. workDir is where
// temporary extraction and matching files are staged.
func New(cfg config.FingerprintConfig, workDir string) *Tools {
	return &Tools{
		mindtct:        cfg.MindtctPath,
		bozorth3:       cfg.Bozorth3Path,
		workDir:        workDir,
		extractTimeout: time.Duration(cfg.ExtractTimeoutSeconds) * time.Second,
		matchTimeout:   time.Duration(cfg.MatchTimeoutSeconds) * time.Second,
	}
}

// Verify checks that both binaries exist. Called once at startup so a
// misconfigured device fails fast instead of on the first capture.
func (t *Tools) Verify() error {
	for _, tool := range []string{t.mindtct, t.bozorth3} {
		if _, err := os.Stat(tool); err != nil {
			return fmt.Errorf("nbis tool not found: %s: %w", tool, err)
		}
	}
	return nil
}

// Extract runs mindtct on a grayscale PNG and returns the XYT feature
// set plus its quality score. Quality is the minutiae count, which is
// fixed at capture time and never recomputed.
func (t *Tools) Extract(ctx context.Context, imagePath string) ([]byte, int, error) {
	outputBase := strings.TrimSuffix(imagePath, filepath.Ext(imagePath))
	xytPath := outputBase + ".xyt"
	defer cleanupMindtctOutputs(outputBase)

	ctx, cancel := context.WithTimeout(ctx, t.extractTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.mindtct, imagePath, outputBase)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, 0, fmt.Errorf("mindtct failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	features, err := os.ReadFile(xytPath)
	if err != nil {
		return nil, 0, fmt.Errorf("mindtct produced no xyt output: %w", err)
	}

	return features, Quality(features), nil
}

// Match runs bozorth3 on two XYT feature sets and returns the similarity
// score. Higher is better; the score is non-negative.
func (t *Tools) Match(ctx context.Context, probe, candidate []byte) (int, error) {
	probePath, err := t.stageXYT(probe)
	if err != nil {
		return 0, err
	}
	defer os.Remove(probePath)

	candidatePath, err := t.stageXYT(candidate)
	if err != nil {
		return 0, err
	}
	defer os.Remove(candidatePath)

	ctx, cancel := context.WithTimeout(ctx, t.matchTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.bozorth3, probePath, candidatePath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("bozorth3 failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	score, err := strconv.Atoi(strings.TrimSpace(stdout.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid bozorth3 output %q: %w", stdout.String(), err)
	}
	return score, nil
}

// Quality counts the minutiae in an XYT payload: one point per
// non-blank, non-comment line.
func Quality(xyt []byte) int {
	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(xyt))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		count++
	}
	return count
}

func (t *Tools) stageXYT(features []byte) (string, error) {
	path := filepath.Join(t.workDir, uuid.NewString()+".xyt")
	if err := os.WriteFile(path, features, 0o644); err != nil {
		return "", fmt.Errorf("stage xyt: %w", err)
	}
	return path, nil
}

// mindtct writes several sidecar files next to the xyt; none survive
// the call.
func cleanupMindtctOutputs(outputBase string) {
	for _, ext := range []string{".xyt", ".min", ".qm", ".dm", ".hcm", ".lcm", ".brw"} {
		_ = os.Remove(outputBase + ext)
	}
}
