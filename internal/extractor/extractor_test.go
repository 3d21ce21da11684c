package extractor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

const samplePage = `
<html><body>
<div class="bus-results">
  <div class="bus-entry">
    <span class="bus-number">鷹51</span>
    <span class="stop-number">2</span>
    <span class="scheduled-departure">10:05</span>
    <span class="scheduled-arrival">10:25</span>
    <span class="remaining-time">約5分で発車します</span>
  </div>
  <div class="bus-entry">
    <span class="bus-number">鷹51</span>
    <span class="stop-number">2</span>
    <span class="scheduled-departure">10:15</span>
    <span class="scheduled-arrival">10:35</span>
    <span class="remaining-time">約12分で発車します</span>
  </div>
</div>
</body></html>`

func TestExtract(t *testing.T) {
	e := New(Config{})

	entries := e.Extract(samplePage, "三鷹駅")

	assert.Len(t, entries, 2)

	assert.Equal(t, "三鷹駅", entries[0].Destination)
	assert.Equal(t, "鷹51", entries[0].BusNumber)
	assert.Equal(t, "2", entries[0].StopNumber)
	assert.Equal(t, "10:05", entries[0].DepartureText)
	assert.Equal(t, "10:25", entries[0].ArrivalText)
	assert.Equal(t, "約5分で発車します", entries[0].RemainingText)

	assert.True(t, entries[0].IsNextBus)
	assert.False(t, entries[1].IsNextBus)
}

func TestExtract_CapsAtThreeEntries(t *testing.T) {
	html := `<div class="bus-results">`
	for i := 0; i < 5; i++ {
		html += fmt.Sprintf(`<div class="bus-entry"><span class="scheduled-departure">10:%02d</span></div>`, i)
	}
	html += `</div>`

	entries := New(Config{}).Extract(html, "吉祥寺駅")

	assert.Len(t, entries, 3)
	assert.Equal(t, "10:00", entries[0].DepartureText)
	assert.Equal(t, "10:02", entries[2].DepartureText)
}

func TestExtract_MissingFieldsDegrade(t *testing.T) {
	html := `<div class="bus-entry"><span class="scheduled-departure">09:40</span></div>`

	entries := New(Config{}).Extract(html, "調布駅北口")

	assert.Len(t, entries, 1)
	assert.Equal(t, UnknownBusNumber, entries[0].BusNumber)
	assert.Equal(t, DefaultStopNumber, entries[0].StopNumber)
	assert.Equal(t, "09:40", entries[0].DepartureText)
	assert.Empty(t, entries[0].ArrivalText)
	assert.Empty(t, entries[0].RemainingText)
	assert.True(t, entries[0].IsNextBus)
}

func TestExtract_NoEntries(t *testing.T) {
	entries := New(Config{}).Extract("<html><body><p>点検中</p></body></html>", "武蔵境駅南口")

	assert.Empty(t, entries)
}

func TestExtract_CustomSelectors(t *testing.T) {
	e := New(Config{
		EntrySelector:     "li.departure",
		DepartureSelector: ".dep",
	})

	entries := e.Extract(`<ul><li class="departure"><i class="dep">11:30</i></li></ul>`, "三鷹駅")

	assert.Len(t, entries, 1)
	assert.Equal(t, "11:30", entries[0].DepartureText)
}
