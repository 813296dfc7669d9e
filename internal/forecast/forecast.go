// Package forecast generates the sample weather data the services serve
// behind their gates.
package forecast

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Days is the number of forecasts in one response.
const Days = 5

// Temperature range in Celsius, upper bound exclusive.
const (
	MinTemperatureC = -20
	MaxTemperatureC = 55
)

var summaries = []string{
	"Freezing", "Bracing", "Chilly", "Cool", "Mild",
	"Warm", "Balmy", "Hot", "Sweltering", "Scorching",
}

// Summaries returns the possible summary values.
func Summaries() []string {
	return append([]string(nil), summaries...)
}

// Forecast is one day. Date is formatted YYYY-MM-DD.
type Forecast struct {
	Date         string `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	TemperatureF int    `json:"temperatureF"`
	Summary      string `json:"summary"`
}

// Fahrenheit converts c the way the forecast has always reported it,
// truncating toward zero.
func Fahrenheit(c int) int {
	return 32 + int(float64(c)/0.5556)
}

// Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// NewGenerator returns a generator. A nil rnd uses a randomly seeded
// source; a nil now uses time.Now.
func NewGenerator(rnd *rand.Rand, now func() time.Time) *Generator {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{rnd: rnd, now: now}
}

// Next returns forecasts for the [Days] days after today.
func (g *Generator) Next() []Forecast {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.now()
	out := make([]Forecast, Days)
	for i := range out {
		c := MinTemperatureC + g.rnd.IntN(MaxTemperatureC-MinTemperatureC)
		out[i] = Forecast{
			Date:         today.AddDate(0, 0, i+1).Format(time.DateOnly),
			TemperatureC: c,
			TemperatureF: Fahrenheit(c),
			Summary:      summaries[g.rnd.IntN(len(summaries))],
		}
	}
	return out
}
