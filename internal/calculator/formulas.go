package calculator

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// tradingDaysPerYear is the annualization basis for daily return series.
const tradingDaysPerYear = 252

// mean calculates the arithmetic mean of a slice of float64 values.
func mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// stdDev calculates the standard deviation of a slice of float64 values.
func stdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// calculateReturns converts prices to percentage returns:
// returns[i] = (price[i] - price[i-1]) / price[i-1]
func calculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}
	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return returns
}

// annualizedVolatility calculates annualized volatility from daily returns.
func annualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return stdDev(dailyReturns) * math.Sqrt(tradingDaysPerYear)
}

// correlation calculates the Pearson correlation coefficient between two
// equally sized return series.
func correlation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// sharpeRatio calculates the annualized Sharpe ratio from daily returns.
//
//	Sharpe = (mean return - periodic risk-free rate) / std dev of returns
//	Annualized: Sharpe * sqrt(252)
//
// Returns (0, false) when there is insufficient data or zero variance.
func sharpeRatio(returns []float64, riskFreeRate float64) (float64, bool) {
	if len(returns) < 2 {
		return 0, false
	}
	sd := stdDev(returns)
	if sd == 0 {
		return 0, false
	}
	periodicRiskFree := riskFreeRate / tradingDaysPerYear
	sharpe := (mean(returns) - periodicRiskFree) / sd
	return sharpe * math.Sqrt(tradingDaysPerYear), true
}

// sortinoRatio calculates the annualized Sortino ratio (downside-deviation
// variant of Sharpe) from daily returns, using the risk-free rate as the
// minimum acceptable return.
func sortinoRatio(returns []float64, riskFreeRate float64) (float64, bool) {
	if len(returns) < 2 {
		return 0, false
	}
	periodicMAR := riskFreeRate / tradingDaysPerYear

	var downsideSquaredSum float64
	downsideCount := 0
	for _, ret := range returns {
		if ret < periodicMAR {
			deviation := ret - periodicMAR
			downsideSquaredSum += deviation * deviation
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return 0, false
	}
	downsideDeviation := math.Sqrt(downsideSquaredSum / float64(downsideCount))
	if downsideDeviation == 0 {
		return 0, false
	}
	sortino := (mean(returns) - periodicMAR) / downsideDeviation
	return sortino * math.Sqrt(tradingDaysPerYear), true
}

// beta calculates the beta of an asset's returns against benchmark returns:
// covariance(asset, benchmark) / variance(benchmark).
func beta(assetReturns, benchmarkReturns []float64) (float64, bool) {
	n := len(assetReturns)
	if n < 2 || n != len(benchmarkReturns) {
		return 0, false
	}
	benchVar := stat.Variance(benchmarkReturns, nil)
	if benchVar == 0 {
		return 0, false
	}
	return stat.Covariance(assetReturns, benchmarkReturns, nil) / benchVar, true
}

// maxDrawdown calculates the maximum peak-to-trough decline of a price
// series, returned as a positive fraction (0.25 means a 25% drawdown).
func maxDrawdown(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	peak := prices[0]
	maxDD := 0.0
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			dd := (peak - p) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// rsi calculates the Relative Strength Index over the final period samples
// of a price series using Wilder's smoothing-free form.
func rsi(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}
	window := prices[len(prices)-period-1:]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		change := window[i] - window[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if losses == 0 {
		return 100, true
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - 100/(1+rs), true
}
