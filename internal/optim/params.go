package optim

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/trajopt/internal/config"
)

var ErrUnknownParam = errors.New("optim: unknown parameter")

const modelPrefix = "model."

// Tunables lists the parameter names Apply understands besides model.<name>.
var Tunables = []string{
	"dt", "steps", "fd_step",
	"max_iter", "lambda", "dlambda", "lambda_factor", "lambda_max", "reg_type", "zmin",
	"kl_step", "kl_eta",
	"noise", "initial_noise",
}

// Apply sets a named tunable on cfg. Plant parameters are addressed as
// model.<name>, for example model.length.
func Apply(cfg *config.Config, name string, v float64) error {
	if param, ok := strings.CutPrefix(name, modelPrefix); ok && param != "" {
		if cfg.Model == nil {
			cfg.Model = map[string]float64{}
		} else {
			cfg.Model = maps.Clone(cfg.Model)
		}
		cfg.Model[param] = v
		return nil
	}

	switch name {
	case "dt":
		cfg.Dt = v
	case "steps":
		cfg.Steps = int(math.Round(v))
	case "fd_step":
		cfg.FDStep = v
	case "max_iter":
		cfg.Optimizer.MaxIter = int(math.Round(v))
	case "lambda":
		cfg.Optimizer.Lambda = v
	case "dlambda":
		cfg.Optimizer.DLambda = v
	case "lambda_factor":
		cfg.Optimizer.LambdaFactor = v
	case "lambda_max":
		cfg.Optimizer.LambdaMax = v
	case "reg_type":
		cfg.Optimizer.RegType = int(math.Round(v))
	case "zmin":
		cfg.Optimizer.ZMin = v
	case "kl_step":
		cfg.KL.Step = v
	case "kl_eta":
		cfg.KL.Eta = v
	case "noise":
		cfg.Validation.Noise = v
	case "initial_noise":
		cfg.Validation.InitialNoise = v
	default:
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	return nil
}

// ParseAxis parses "name=v1,v2,..." or "name=lo:hi:n" (n evenly spaced
// values, or log-spaced with "name=lo:hi:n:log").
func ParseAxis(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || list == "" {
		return "", nil, fmt.Errorf("malformed axis %q, want name=values", s)
	}

	if strings.Contains(list, ":") {
		parts := strings.Split(list, ":")
		if len(parts) != 3 && !(len(parts) == 4 && parts[3] == "log") {
			return "", nil, fmt.Errorf("malformed range %q, want lo:hi:n[:log]", list)
		}
		lo, err1 := strconv.ParseFloat(parts[0], 64)
		hi, err2 := strconv.ParseFloat(parts[1], 64)
		n, err3 := strconv.Atoi(parts[2])
		if err := errors.Join(err1, err2, err3); err != nil {
			return "", nil, fmt.Errorf("malformed range %q: %w", list, err)
		}
		if n < 2 {
			return "", nil, fmt.Errorf("range %q needs at least 2 points", list)
		}
		values := make([]float64, n)
		if len(parts) == 4 {
			if lo <= 0 || hi <= 0 {
				return "", nil, fmt.Errorf("log range %q needs positive bounds", list)
			}
			floats.LogSpan(values, lo, hi)
		} else {
			floats.Span(values, lo, hi)
		}
		return name, values, nil
	}

	fields := strings.Split(list, ",")
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return "", nil, fmt.Errorf("axis %s: %w", name, err)
		}
		values = append(values, v)
	}
	return name, values, nil
}
