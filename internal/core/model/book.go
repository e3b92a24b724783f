// Package model 定义监控器中使用的核心数据结构。
// 包含订单记录、利率档位、盘口视图、告警及周期输出等类型。
package model

import "time"

// Side 盘口方向
type Side string

const (
	// SideBid 买方（出借方），净金额为正
	SideBid Side = "bid"
	// SideAsk 卖方（借入方），净金额为负
	SideAsk Side = "ask"
)

// Snapshot 单个周期标识的一次抓取结果
// Payload 为数据源返回的原始 JSON 数组；Err 非空表示本次抓取失败。
type Snapshot struct {
	// PeriodID 周期标识
	PeriodID int
	// Payload 原始响应体
	Payload []byte
	// Err 抓取错误
	Err error
}

// OrderRecord 归一化后的单条挂单记录
// 字段均已通过类型校验；结构体可比较，用于按全元组去重。
type OrderRecord struct {
	// Rate 原始利率（小数形式，如 0.0002 表示 0.02%）
	Rate float64
	// Period 借贷期限（天）
	Period int
	// Amount 带符号金额：正为买方，负为卖方
	Amount float64
	// Orders 挂单数量
	Orders float64
}

// Bucket 按量化利率聚合后的档位
type Bucket struct {
	// Rate 百分比利率，已按精度量化
	Rate float64 `json:"rate"`
	// TotalAmount 档位净金额（带符号）
	TotalAmount float64 `json:"total_amount"`
	// TotalOrders 档位挂单总数
	TotalOrders float64 `json:"total_orders"`
	// Periods 参与该档位的期限集合（升序）
	Periods []int `json:"periods"`
	// Cumulative 从最优档位起的累计深度
	Cumulative float64 `json:"cumulative"`
}

// Side 根据净金额符号判断档位方向
// 净金额为 0 的档位不属于任何一方，返回空字符串。
func (b Bucket) Side() Side {
	switch {
	case b.TotalAmount > 0:
		return SideBid
	case b.TotalAmount < 0:
		return SideAsk
	default:
		return ""
	}
}

// BookView 双边深度视图
// 每个周期重新构建，构建完成后只读。
type BookView struct {
	// Precision 利率量化精度（小数位数）
	Precision int `json:"precision"`
	// Bids 买方档位，按利率升序
	Bids []Bucket `json:"bids"`
	// Asks 卖方档位，按利率降序
	Asks []Bucket `json:"asks"`
}

// Empty 判断视图是否没有任何档位
func (v *BookView) Empty() bool {
	return v == nil || (len(v.Bids) == 0 && len(v.Asks) == 0)
}

// BookStats 盘口统计
type BookStats struct {
	// BestBidRate 买方最高利率
	BestBidRate float64 `json:"best_bid_rate"`
	// BestAskRate 卖方最低利率
	BestAskRate float64 `json:"best_ask_rate"`
	// Spread BestAskRate - BestBidRate，仅在双边都有档位时有效
	Spread float64 `json:"spread"`
	// HasBid 是否存在买方档位
	HasBid bool `json:"has_bid"`
	// HasAsk 是否存在卖方档位
	HasAsk bool `json:"has_ask"`
	// BidDepth 买方总深度
	BidDepth float64 `json:"bid_depth"`
	// AskDepth 卖方总深度（绝对值）
	AskDepth float64 `json:"ask_depth"`
}

// Stats 计算盘口统计
func (v *BookView) Stats() BookStats {
	var st BookStats
	if v == nil {
		return st
	}
	for i, b := range v.Bids {
		if i == 0 || b.Rate > st.BestBidRate {
			st.BestBidRate = b.Rate
		}
		st.HasBid = true
	}
	for i, b := range v.Asks {
		if i == 0 || b.Rate < st.BestAskRate {
			st.BestAskRate = b.Rate
		}
		st.HasAsk = true
	}
	if n := len(v.Bids); n > 0 {
		st.BidDepth = v.Bids[n-1].Cumulative
	}
	if n := len(v.Asks); n > 0 {
		st.AskDepth = v.Asks[n-1].Cumulative
	}
	if st.HasBid && st.HasAsk {
		st.Spread = st.BestAskRate - st.BestBidRate
	}
	return st
}

// Update 单个周期发布给展示层的结果
type Update struct {
	// Seq 周期序号（从 1 开始）
	Seq uint64 `json:"seq"`
	// TsUnixNs 周期开始时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// UpdatedAt 周期开始时间
	UpdatedAt time.Time `json:"updated_at"`
	// Display 展示精度的深度视图
	Display *BookView `json:"display"`
	// Stats 基于展示视图的统计
	Stats BookStats `json:"stats"`
	// Alerts 本周期告警评估结果
	Alerts []AlertResult `json:"alerts"`
	// NoData 所有周期都没有有效记录
	NoData bool `json:"no_data"`
	// FetchErrors 抓取失败的周期数
	FetchErrors int `json:"fetch_errors"`
	// DroppedRecords 被丢弃的记录数
	DroppedRecords int `json:"dropped_records"`
}
