// Package indicators provides the pure, deterministic technical-analysis
// primitives the scorer is built on: EMA, Wilder's RMA, RSI, SMA, ATR, and
// rolling VWAP. EMA/RMA/RSI/SMA are ported directly from the teacher's
// calculateEMAServer/calculateRMAServer/calculateRSIServer/
// calculateSMAServer; ATR and VWAP are new, written in the same
// plain-function-over-a-slice style.
//
// Every function here is pure: identical input always yields identical
// output, with no wall-clock or random source, per spec.md §4.D's
// determinism invariant.
package indicators

import "math"

// EMA computes the exponential moving average of data over period bars.
// The first period-1 values are back-filled with the seed SMA so the
// returned slice has the same length as the input.
func EMA(data []float64, period int) []float64 {
	if len(data) < period || period <= 0 {
		return make([]float64, len(data))
	}

	ema := make([]float64, len(data))

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	ema[period-1] = sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(data); i++ {
		ema[i] = (data[i]-ema[i-1])*multiplier + ema[i-1]
	}

	for i := 0; i < period-1; i++ {
		ema[i] = ema[period-1]
	}

	return ema
}

// RMA computes Wilder's smoothed moving average, the averaging method RSI
// is built on.
func RMA(data []float64, period int) []float64 {
	if len(data) < period || period <= 0 {
		return make([]float64, len(data))
	}

	rma := make([]float64, len(data))

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	rma[period-1] = sum / float64(period)

	alpha := 1.0 / float64(period)
	for i := period; i < len(data); i++ {
		rma[i] = alpha*data[i] + (1-alpha)*rma[i-1]
	}

	return rma
}

// RSI computes the Relative Strength Index over period bars using Wilder
// smoothing. Bars before enough history has accumulated are filled with
// the neutral value 50.
func RSI(data []float64, period int) []float64 {
	result := make([]float64, len(data))
	for i := range result {
		result[i] = 50
	}
	if len(data) < period+1 || period <= 0 {
		return result
	}

	gains := make([]float64, len(data))
	losses := make([]float64, len(data))
	for i := 1; i < len(data); i++ {
		change := data[i] - data[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = math.Abs(change)
		}
	}

	avgGain := RMA(gains[1:], period)
	avgLoss := RMA(losses[1:], period)

	for i := period; i < len(data); i++ {
		ag := avgGain[i-1]
		al := avgLoss[i-1]
		switch {
		case al == 0 && ag == 0:
			result[i] = 50
		case al == 0:
			result[i] = 100
		default:
			rs := ag / al
			result[i] = 100 - 100/(1+rs)
		}
	}

	return result
}

// SMA computes the Simple Moving Average over period bars.
func SMA(data []float64, period int) []float64 {
	if len(data) < period || period <= 0 {
		return make([]float64, len(data))
	}

	sma := make([]float64, len(data))
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	sma[period-1] = sum / float64(period)

	for i := period; i < len(data); i++ {
		sum = sum - data[i-period] + data[i]
		sma[i] = sum / float64(period)
	}

	return sma
}

// Bar is the minimal OHLC shape ATR and VWAP need, decoupled from
// models.RawBar so this package has no dependency on the rest of the
// module.
type Bar struct {
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// ATR computes the Average True Range over period bars using Wilder
// smoothing of the true-range series.
func ATR(bars []Bar, period int) []float64 {
	if len(bars) == 0 {
		return nil
	}
	tr := make([]float64, len(bars))
	for i, b := range bars {
		if i == 0 {
			tr[i] = b.High - b.Low
			continue
		}
		prevClose := bars[i-1].Close
		highLow := b.High - b.Low
		highClose := math.Abs(b.High - prevClose)
		lowClose := math.Abs(b.Low - prevClose)
		tr[i] = math.Max(highLow, math.Max(highClose, lowClose))
	}
	return RMA(tr, period)
}

// VWAP computes a cumulative volume-weighted average price series over
// bars, resetting at index 0 (one trading session per call).
func VWAP(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	cumPV := 0.0
	cumVol := 0.0
	for i, b := range bars {
		typicalPrice := b.Close
		cumPV += typicalPrice * b.Volume
		cumVol += b.Volume
		if cumVol > 0 {
			out[i] = cumPV / cumVol
		} else {
			out[i] = typicalPrice
		}
	}
	return out
}
