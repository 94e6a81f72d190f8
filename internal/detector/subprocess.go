package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const serviceScript = "fall_detect_service.py"

// idleShutdown stops the Python process after this long without a request.
const idleShutdown = 30 * time.Second

// SubprocessDetector implements PoseDetector using a Python fall detection subprocess.
type SubprocessDetector struct {
	config    Config
	script    string
	python    string
	log       *zap.Logger
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	lastUsed  time.Time
	idleTimer *time.Timer
	lastPose  *PoseSample
}

// NewSubprocessDetector creates a new subprocess detector.
// The Python process is started lazily on first classification.
func NewSubprocessDetector(config Config, log *zap.Logger) (*SubprocessDetector, error) {
	if log == nil {
		log = zap.NewNop()
	}

	script := config.Script
	if script == "" {
		script = findServiceScript()
	} else if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("fall detection service %s: %w", script, err)
	}
	if script == "" {
		return nil, fmt.Errorf("%s not found", serviceScript)
	}

	python := config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	return &SubprocessDetector{
		config: config,
		script: script,
		python: python,
		log:    log.Named("fall-service"),
	}, nil
}

// Classify sends the frame to the service and returns the flagged poses.
func (d *SubprocessDetector) Classify(ctx context.Context, frame gocv.Mat) (Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	// Encode frame as JPEG
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// Copy out of the native buffer; a timed-out exchange may outlive it
	data := append([]byte(nil), buf.GetBytes()...)

	line, err := d.exchange(ctx, data)
	if err != nil {
		return nil, err
	}

	resp, err := parseResponse([]byte(line))
	if err != nil {
		return nil, err
	}

	if resp.pose != nil {
		d.lastPose = resp.pose
	}

	d.lastUsed = time.Now()
	d.resetIdleTimer()

	return resp.detection, nil
}

type exchangeResult struct {
	line string
	err  error
}

// exchange writes one length-prefixed frame and reads the JSON reply. When
// ctx ends first the service is killed, since a late reply would desync the
// stream. Callers hold d.mu.
func (d *SubprocessDetector) exchange(ctx context.Context, data []byte) (string, error) {
	stdin, stdout := d.stdin, d.stdout
	done := make(chan exchangeResult, 1)
	go func() {
		// Write length (4 bytes big-endian) + data
		length := make([]byte, 4)
		binary.BigEndian.PutUint32(length, uint32(len(data)))
		if _, err := stdin.Write(length); err != nil {
			done <- exchangeResult{err: fmt.Errorf("write length: %w", err)}
			return
		}
		if _, err := stdin.Write(data); err != nil {
			done <- exchangeResult{err: fmt.Errorf("write data: %w", err)}
			return
		}
		line, err := stdout.ReadString('\n')
		if err != nil {
			err = fmt.Errorf("read response: %w", err)
		}
		done <- exchangeResult{line: line, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			d.restart()
		}
		return r.line, r.err
	case <-ctx.Done():
		d.log.Warn("fall detection service did not answer in time, killing it", zap.Error(ctx.Err()))
		d.kill()
		return "", fmt.Errorf("classify: %w", ctx.Err())
	}
}

// LastKnownPose returns the last pose the service estimated.
func (d *SubprocessDetector) LastKnownPose() (PoseSample, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastPose == nil {
		return PoseSample{}, false
	}
	return d.lastPose.Clone(), true
}

// Close shuts down the Python process.
func (d *SubprocessDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *SubprocessDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	args, err := json.Marshal(d.config)
	if err != nil {
		return fmt.Errorf("encode model config: %w", err)
	}

	d.cmd = exec.Command(d.python, d.script, "--config", string(args))

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start fall detection service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	d.lastUsed = time.Now()

	d.log.Info("fall detection service started",
		zap.String("script", d.script),
		zap.String("model", d.config.ModelName),
		zap.Int("pid", d.cmd.Process.Pid))

	return nil
}

// kill stops a hung process. Wait closes the pipes, which unblocks the
// pending exchange goroutine.
func (d *SubprocessDetector) kill() {
	if d.started && d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.restart()
}

// restart drops a broken process so the next call starts a fresh one.
func (d *SubprocessDetector) restart() {
	if err := d.shutdown(); err != nil {
		d.log.Debug("service exited", zap.Error(err))
	}
}

func (d *SubprocessDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *SubprocessDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findServiceScript() string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", serviceScript),
		filepath.Join("..", "scripts", serviceScript),
		filepath.Join(execDir, "scripts", serviceScript),
		filepath.Join(os.Getenv("HOME"), ".guardian", "scripts", serviceScript),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".guardian/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// jsonResponse represents the JSON line written by the service per frame.
type jsonResponse struct {
	Detections []jsonSample `json:"detections"`
	Pose       *jsonSample  `json:"pose"`
	Error      string       `json:"error,omitempty"`
}

// jsonSample keeps keypoints as [x, y] pairs; null means not detected.
type jsonSample struct {
	Keypoints  map[string][]float64 `json:"keypoints"`
	Label      string               `json:"label"`
	Confidence float64              `json:"confidence"`
}

type parsedResponse struct {
	detection Detection
	pose      *PoseSample
}

func parseResponse(line []byte) (parsedResponse, error) {
	var resp jsonResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return parsedResponse{}, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return parsedResponse{}, errors.New(resp.Error)
	}

	out := parsedResponse{detection: make(Detection, 0, len(resp.Detections))}
	for _, s := range resp.Detections {
		out.detection = append(out.detection, s.toPoseSample())
	}

	if resp.Pose != nil {
		pose := resp.Pose.toPoseSample()
		out.pose = &pose
	} else if len(out.detection) > 0 {
		pose := out.detection[len(out.detection)-1].Clone()
		out.pose = &pose
	}

	return out, nil
}

func (s jsonSample) toPoseSample() PoseSample {
	p := PoseSample{
		Label:      Label(s.Label),
		Confidence: s.Confidence,
		Keypoints:  make(map[string]*Point2D, len(s.Keypoints)),
	}
	if p.Label == "" {
		p.Label = LabelNormal
	}

	for name, xy := range s.Keypoints {
		if len(xy) < 2 {
			p.Keypoints[name] = nil
			continue
		}
		p.Keypoints[name] = &Point2D{X: xy[0], Y: xy[1]}
	}

	return p
}
