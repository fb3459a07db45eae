package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"transcription-service/internal/entity"
	"transcription-service/internal/worker"
)

// PipelineError is a stage-aware processing error.
type PipelineError struct {
	Stage   string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Pipeline implements the Processor capability with ffmpeg audio
// normalization followed by whisper.cpp transcription.
type Pipeline struct {
	ffmpegPath  string
	whisperPath string
	modelDir    string
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	readFile    func(name string) ([]byte, error)
	stat        func(name string) (os.FileInfo, error)
	readDir     func(name string) ([]os.DirEntry, error)
}

func NewPipeline(ffmpegPath, whisperPath, modelDir string) *Pipeline {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if whisperPath == "" {
		whisperPath = "whisper.cpp"
	}
	return &Pipeline{
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		modelDir:    modelDir,
		runner:      &execRunner{},
		mkdirTemp:   os.MkdirTemp,
		readFile:    os.ReadFile,
		stat:        os.Stat,
		readDir:     os.ReadDir,
	}
}

// Execute normalizes the input media, transcribes it, and reports
// coarse progress along the way. Cancelling ctx interrupts the
// underlying processes.
func (p *Pipeline) Execute(ctx context.Context, audioPath string, params entity.TranscriptionParams, onProgress worker.ProgressFunc) (*entity.TranscriptionResult, error) {
	start := time.Now()
	emit := func(progress float64, message string) {
		if onProgress != nil {
			onProgress(progress, message)
		}
	}

	if strings.TrimSpace(audioPath) == "" {
		return nil, &PipelineError{Stage: "preprocessing", Message: "audio path is required"}
	}
	if _, err := p.stat(audioPath); err != nil {
		return nil, &PipelineError{
			Stage:   "preprocessing",
			Message: fmt.Sprintf("cannot access audio file: %s", audioPath),
			Err:     err,
		}
	}

	modelPath, err := p.resolveModelPath(params.Model)
	if err != nil {
		return nil, &PipelineError{Stage: "transcribing", Message: err.Error(), Err: err}
	}

	tempDir, err := p.mkdirTemp("", "transcription-*")
	if err != nil {
		return nil, &PipelineError{
			Stage:   "preprocessing",
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}
	defer os.RemoveAll(tempDir)

	emit(5, "Preparing audio...")

	wavPath := filepath.Join(tempDir, "normalized-16k-mono.wav")
	if _, err := p.runner.Run(ctx, p.ffmpegPath, ffmpegArgs(audioPath, wavPath)...); err != nil {
		return nil, &PipelineError{
			Stage:   "preprocessing",
			Message: "ffmpeg audio conversion failed",
			Err:     err,
		}
	}

	emit(20, "Audio processed, starting transcription...")

	outBase := filepath.Join(tempDir, "transcript")
	emit(30, "Transcribing audio...")
	if _, err := p.runner.Run(ctx, p.whisperPath, whisperArgs(modelPath, wavPath, outBase, params)...); err != nil {
		return nil, &PipelineError{
			Stage:   "transcribing",
			Message: "whisper.cpp transcription failed",
			Err:     err,
		}
	}

	emit(90, "Parsing transcript...")

	raw, err := p.readFile(outBase + ".json")
	if err != nil {
		return nil, &PipelineError{
			Stage:   "transcribing",
			Message: "whisper.cpp completed but transcript JSON is missing",
			Err:     err,
		}
	}

	result, err := parseWhisperOutput(raw, params)
	if err != nil {
		return nil, &PipelineError{
			Stage:   "transcribing",
			Message: "failed to parse whisper.cpp output",
			Err:     err,
		}
	}

	emit(95, "Finalizing transcription...")

	result.ProcessingTime = time.Since(start).Seconds()
	return result, nil
}

// resolveModelPath locates the whisper model file for a model name,
// falling back to the first model file found in the model directory.
func (p *Pipeline) resolveModelPath(model string) (string, error) {
	if p.modelDir == "" {
		return "", fmt.Errorf("model directory is not configured")
	}

	if model != "" {
		candidate := filepath.Join(p.modelDir, "ggml-"+model+".bin")
		if _, err := p.stat(candidate); err == nil {
			return candidate, nil
		}
	}

	entries, err := p.readDir(p.modelDir)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", p.modelDir)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no whisper model files found in: %s", p.modelDir)
	}

	sort.Strings(names)
	return filepath.Join(p.modelDir, names[0]), nil
}

// ffmpegArgs builds normalization args for mono 16k PCM WAV output.
func ffmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// whisperArgs builds whisper.cpp args for JSON transcript export.
func whisperArgs(modelPath, audioPath, outBase string, params entity.TranscriptionParams) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
	}

	if lang := normalizeLanguage(params.Language); lang != "" {
		args = append(args, "-l", lang)
	}
	if params.Temperature > 0 {
		args = append(args, "--temperature", strconv.FormatFloat(params.Temperature, 'f', 2, 64))
	}
	if params.InitialPrompt != "" {
		args = append(args, "--prompt", params.InitialPrompt)
	}
	return args
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// whisperOutput mirrors the whisper.cpp -oj transcript file.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperOutput(raw []byte, params entity.TranscriptionParams) (*entity.TranscriptionResult, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	var (
		parts    []string
		segments []entity.Segment
		duration float64
	)
	for i, seg := range out.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)

		end := float64(seg.Offsets.To) / 1000
		if end > duration {
			duration = end
		}
		if params.ReturnTimestamps {
			segments = append(segments, entity.Segment{
				ID:    i,
				Start: float64(seg.Offsets.From) / 1000,
				End:   end,
				Text:  text,
			})
		}
	}

	language := out.Result.Language
	if language == "" {
		language = normalizeLanguage(params.Language)
	}

	model := params.Model
	if model == "" {
		model = "default"
	}

	return &entity.TranscriptionResult{
		Text:      strings.Join(parts, " "),
		Language:  language,
		ModelUsed: model,
		Duration:  duration,
		Segments:  segments,
	}, nil
}

// newPipelineForTests constructs a pipeline with injectable seams.
func newPipelineForTests(runner commandRunner, mkdirTemp func(dir, pattern string) (string, error), readFile func(name string) ([]byte, error), stat func(name string) (os.FileInfo, error), readDir func(name string) ([]os.DirEntry, error)) *Pipeline {
	return &Pipeline{
		ffmpegPath:  "ffmpeg",
		whisperPath: "whisper.cpp",
		modelDir:    "models",
		runner:      runner,
		mkdirTemp:   mkdirTemp,
		readFile:    readFile,
		stat:        stat,
		readDir:     readDir,
	}
}
