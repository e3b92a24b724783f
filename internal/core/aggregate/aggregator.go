// Package aggregate 按量化利率聚合挂单记录，构建双边深度视图。
// 展示精度与告警精度分别独立调用，互不派生。
package aggregate

import (
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"funding-depth-monitor/internal/core/model"
)

// percentShift 小数利率转百分比的十进制位移
const percentShift = 2

// Aggregator 固定精度的聚合器
// 无状态，可被多个周期重复使用。
type Aggregator struct {
	precision int
}

// New 创建聚合器
// 参数 precision: 百分比利率保留的小数位数
func New(precision int) *Aggregator {
	return &Aggregator{precision: precision}
}

// Precision 返回量化精度
func (a *Aggregator) Precision() int { return a.precision }

// Build 聚合一批记录
// 无有效记录时返回空视图与 model.ErrNoData。
func (a *Aggregator) Build(records []model.OrderRecord) (*model.BookView, error) {
	return Aggregate(records, a.precision)
}

// bucketAcc 聚合中间态，金额使用十进制累加以保证净额为零的判断精确
type bucketAcc struct {
	rate    decimal.Decimal
	amount  decimal.Decimal
	orders  decimal.Decimal
	periods map[int]struct{}
}

// Aggregate 将记录按利率量化后分组，拆分买卖两侧并计算累计深度
//  1. 利率 ×100 转为百分比后按 precision 四舍五入
//  2. 相同利率的记录合并：金额求和、挂单数求和、期限取并集
//  3. 净额 >0 归入买方，<0 归入卖方，=0 丢弃
//  4. 买方按利率升序，卖方按利率降序
//  5. 各侧按排序后的顺序前缀求和（卖方取绝对值）
func Aggregate(records []model.OrderRecord, precision int) (*model.BookView, error) {
	view := &model.BookView{Precision: precision, Bids: []model.Bucket{}, Asks: []model.Bucket{}}
	if len(records) == 0 {
		return view, model.ErrNoData
	}

	groups := make(map[string]*bucketAcc, len(records))
	for _, r := range records {
		rate := Quantize(r.Rate, precision)
		// String() 会去掉多余的尾零，数值相等的利率得到相同的键
		key := rate.String()
		acc, ok := groups[key]
		if !ok {
			acc = &bucketAcc{rate: rate, periods: make(map[int]struct{}, 1)}
			groups[key] = acc
		}
		acc.amount = acc.amount.Add(decimal.NewFromFloat(r.Amount))
		acc.orders = acc.orders.Add(decimal.NewFromFloat(r.Orders))
		acc.periods[r.Period] = struct{}{}
	}

	var bids, asks []*bucketAcc
	for _, acc := range groups {
		switch acc.amount.Sign() {
		case 1:
			bids = append(bids, acc)
		case -1:
			asks = append(asks, acc)
		}
	}

	slices.SortFunc(bids, func(x, y *bucketAcc) int { return x.rate.Cmp(y.rate) })
	slices.SortFunc(asks, func(x, y *bucketAcc) int { return y.rate.Cmp(x.rate) })

	view.Bids = buildSide(bids)
	view.Asks = buildSide(asks)
	return view, nil
}

// Quantize 将小数利率转为百分比并按精度四舍五入
func Quantize(rate float64, precision int) decimal.Decimal {
	return decimal.NewFromFloat(rate).Shift(percentShift).Round(int32(precision))
}

// buildSide 计算累计深度并转换为 float64 档位
// 无法用有限 float64 表示的档位被丢弃；累计值溢出后其后的档位一并丢弃，保持累计单调。
func buildSide(accs []*bucketAcc) []model.Bucket {
	out := make([]model.Bucket, 0, len(accs))
	cum := decimal.Zero
	for _, acc := range accs {
		rate, _ := acc.rate.Float64()
		amount, _ := acc.amount.Float64()
		orders, _ := acc.orders.Float64()
		if !finite(rate) || !finite(amount) || !finite(orders) {
			continue
		}
		next := cum.Add(acc.amount.Abs())
		cumulative, _ := next.Float64()
		if !finite(cumulative) {
			break
		}
		cum = next
		out = append(out, model.Bucket{
			Rate:        rate,
			TotalAmount: amount,
			TotalOrders: orders,
			Periods:     sortedPeriods(acc.periods),
			Cumulative:  cumulative,
		})
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func sortedPeriods(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
