package alert

import (
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"funding-depth-monitor/internal/core/model"
)

// dedupPlaces 去重键使用的流动性小数位数
const dedupPlaces = 1

// amountUnit 金额换算单位：告警目标以百万计
var amountUnit = decimal.NewFromInt(1_000_000)

// Evaluator 告警评估器
// 只读取买方档位；每个告警独立评估，互不影响。
type Evaluator struct {
	state *TriggerState
}

// NewEvaluator 创建告警评估器
// 参数 state: 触发记录，由评估器独占写入
func NewEvaluator(state *TriggerState) *Evaluator {
	if state == nil {
		state = NewTriggerState()
	}
	return &Evaluator{state: state}
}

// State 返回触发记录
func (e *Evaluator) State() *TriggerState { return e.state }

// Evaluate 针对高精度视图评估所有告警
// 视图为 nil 或没有买方档位时，所有告警的可用流动性为 0。
// ID 为空的告警被跳过。
func (e *Evaluator) Evaluate(view *model.BookView, alerts []model.Alert) []model.AlertResult {
	results := make([]model.AlertResult, 0, len(alerts))
	var bids []model.Bucket
	if view != nil {
		bids = view.Bids
	}
	for _, a := range alerts {
		if a.ID == uuid.Nil {
			continue
		}
		results = append(results, e.evaluateOne(bids, a))
	}
	return results
}

func (e *Evaluator) evaluateOne(bids []model.Bucket, a model.Alert) model.AlertResult {
	res := model.AlertResult{
		AlertID:       a.ID,
		Name:          a.Name,
		ThresholdRate: a.ThresholdRate,
		TargetAmount:  a.TargetAmount,
	}

	// 非有限阈值视为 0，不统计任何档位
	threshold, _ := toDecimal(a.ThresholdRate)
	target, _ := toDecimal(a.TargetAmount)
	sum := decimal.Zero
	for _, b := range bids {
		rate, ok := toDecimal(b.Rate)
		if !ok {
			continue
		}
		// 严格小于：恰好等于阈值的档位不计入
		if !rate.LessThan(threshold) {
			continue
		}
		amount, ok := toDecimal(b.TotalAmount)
		if !ok {
			continue
		}
		sum = sum.Add(amount)
		if !res.HasBestRate || b.Rate > res.BestRate {
			res.BestRate = b.Rate
			res.HasBestRate = true
		}
	}

	available := sum.Div(amountUnit)
	rounded := available.Round(dedupPlaces)
	res.AvailableLiquidity, _ = available.Float64()
	res.RoundedLiquidity, _ = rounded.Float64()

	if available.LessThan(target) {
		res.Status = model.StatusInsufficient
	} else {
		res.Status = model.StatusSufficient
	}

	res.Notify = e.state.Observe(a.ID, rounded)
	res.Alarm = res.Notify && res.Status == model.StatusInsufficient
	return res
}

// toDecimal 转换 float64；NaN 与 Inf 返回零值与 false
// decimal.NewFromFloat 遇到非有限数会 panic。
func toDecimal(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}
