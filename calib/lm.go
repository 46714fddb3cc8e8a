package calib

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

var (
	errRefineSingular = errors.New("normal equations are singular")
	errRefineDiverged = errors.New("refinement did not converge within the iteration budget")
)

// lmProblem is a damped least-squares minimization: find params minimizing
// the sum of squared residuals, Levenberg-Marquardt style with Marquardt
// diagonal scaling and a forward-difference Jacobian.
type lmProblem struct {
	// residuals writes the residual vector for params into out.
	residuals     func(params, out []float64)
	numResiduals  int
	maxIterations int
	// tolerance is the relative cost decrease below which the solve is
	// considered converged.
	tolerance float64
	logger    *zap.SugaredLogger
}

// solveLM refines params in place and returns the final cost (sum of squared
// residuals) and the iteration count.
func solveLM(p lmProblem, params []float64) (float64, int, error) {
	n := len(params)
	m := p.numResiduals
	logger := p.logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	r := make([]float64, m)
	rTrial := make([]float64, m)
	trial := make([]float64, n)
	jac := mat.NewDense(m, n, nil)
	rPerturbed := make([]float64, m)

	p.residuals(params, r)
	cost := sumSquares(r)
	lambda := 1e-3

	for iter := 1; iter <= p.maxIterations; iter++ {
		// forward-difference Jacobian
		for j := 0; j < n; j++ {
			h := 1e-7 * math.Max(math.Abs(params[j]), 1.0)
			saved := params[j]
			params[j] = saved + h
			p.residuals(params, rPerturbed)
			params[j] = saved
			for i := 0; i < m; i++ {
				jac.Set(i, j, (rPerturbed[i]-r[i])/h)
			}
		}

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		g := make([]float64, n)
		for j := 0; j < n; j++ {
			var s float64
			for i := 0; i < m; i++ {
				s += jac.At(i, j) * r[i]
			}
			g[j] = s
		}

		accepted := false
		for attempt := 0; attempt < 12; attempt++ {
			damped := mat.NewSymDense(n, nil)
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					damped.SetSym(i, j, jtj.At(i, j))
				}
				d := jtj.At(i, i)
				if d < 1e-12 {
					d = 1e-12
				}
				damped.SetSym(i, i, jtj.At(i, i)+lambda*d)
			}

			var chol mat.Cholesky
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				if attempt == 11 {
					return cost, iter, errRefineSingular
				}
				continue
			}
			step := mat.NewVecDense(n, nil)
			if err := chol.SolveVecTo(step, mat.NewVecDense(n, negate(g))); err != nil {
				return cost, iter, errors.Wrap(errRefineSingular, err.Error())
			}

			for j := 0; j < n; j++ {
				trial[j] = params[j] + step.AtVec(j)
			}
			p.residuals(trial, rTrial)
			trialCost := sumSquares(rTrial)
			if trialCost < cost {
				copy(params, trial)
				copy(r, rTrial)
				prevCost := cost
				cost = trialCost
				lambda = math.Max(lambda*0.3, 1e-12)
				accepted = true
				logger.Debugw("refinement step", "iteration", iter, "cost", cost, "lambda", lambda)
				if prevCost-cost <= p.tolerance*(cost+1e-20) {
					return cost, iter, nil
				}
				break
			}
			lambda *= 10
		}
		if !accepted {
			// the damping grew until no step improves the cost; the current
			// point is a (numerical) minimum
			return cost, iter, nil
		}
	}
	return cost, p.maxIterations, errRefineDiverged
}

func sumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}

func negate(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}
