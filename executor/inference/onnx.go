package inference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/brensch/cchess/executor/convert"
	"github.com/brensch/cchess/game"
)

const (
	InputSize = convert.FloatSize
	ValueSize = 1
)

type OnnxConfig struct {
	// IntraOpThreads and InterOpThreads default to 1; batching provides the
	// parallelism.
	IntraOpThreads int
	InterOpThreads int
	DisableCUDA    bool
}

// OnnxOracle runs a policy/value network with ONNX Runtime. The model takes
// "input" [B,14,10,9] and returns "policy" [B,NumActions] and "value" [B,1].
type OnnxOracle struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	path    string
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxOracle(modelPath string, cfg OnnxConfig) (*OnnxOracle, error) {
	if cfg.IntraOpThreads <= 0 {
		cfg.IntraOpThreads = 1
	}
	if cfg.InterOpThreads <= 0 {
		cfg.InterOpThreads = 1
	}

	if runtime.GOOS == "linux" {
		if lib := sharedLibrary(modelPath); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return nil, fmt.Errorf("set inter-op threads: %w", err)
	}

	if !cfg.DisableCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err == nil {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				log.Warn().Err(err).Msg("failed to append CUDA provider")
			} else {
				log.Info().Msg("CUDA provider enabled")
			}
		} else {
			log.Warn().Err(err).Msg("failed to create CUDA options")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"policy", "value"}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &OnnxOracle{session: session, path: modelPath}, nil
}

// sharedLibrary resolves libonnxruntime. ORT_SHARED_LIBRARY_PATH wins;
// otherwise the lib/ directory shipped beside the model, then the working
// directory. An empty result leaves the loader's default search in place.
func sharedLibrary(modelPath string) string {
	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	cwd, _ := os.Getwd()
	return findLibrary(libraryDirs(modelPath, cwd))
}

func libraryDirs(modelPath, cwd string) []string {
	var dirs []string
	if modelPath != "" {
		dirs = append(dirs, filepath.Join(filepath.Dir(modelPath), "lib"))
	}
	if cwd != "" {
		dirs = append(dirs, filepath.Join(cwd, "lib"), cwd)
	}
	return dirs
}

// findLibrary returns the first regular file named libonnxruntime.so or
// libonnxruntime.so.<version> in dirs, preferring the unversioned name.
func findLibrary(dirs []string) string {
	for _, dir := range dirs {
		if abs := filepath.Join(dir, "libonnxruntime.so"); isFile(abs) {
			return abs
		}
		matches, _ := filepath.Glob(filepath.Join(dir, "libonnxruntime.so.*"))
		sort.Strings(matches)
		for _, m := range matches {
			if isFile(m) {
				return m
			}
		}
	}
	return ""
}

func isFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

func (o *OnnxOracle) ModelPath() string { return o.path }

func (o *OnnxOracle) Close() error {
	return o.session.Destroy()
}

func (o *OnnxOracle) Predict(ctx context.Context, batch [][]float32) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int64(len(batch))
	if n == 0 {
		return nil, nil
	}

	input := make([]float32, 0, len(batch)*InputSize)
	for i, planes := range batch {
		if len(planes) != InputSize {
			return nil, fmt.Errorf("input %d has %d floats, want %d", i, len(planes), InputSize)
		}
		input = append(input, planes...)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(n, convert.Channels, convert.Height, convert.Width), input)
	if err != nil {
		return nil, err
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, int64(game.NumActions)))
	if err != nil {
		return nil, err
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, ValueSize))
	if err != nil {
		return nil, err
	}
	defer valueTensor.Destroy()

	o.mu.Lock()
	err = o.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor})
	o.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()

	out := make([]Prediction, len(batch))
	for i := range out {
		policy := make([]float32, game.NumActions)
		copy(policy, policyData[i*game.NumActions:(i+1)*game.NumActions])
		out[i] = Prediction{Policy: policy, Value: valueData[i*ValueSize]}
	}
	return out, nil
}
