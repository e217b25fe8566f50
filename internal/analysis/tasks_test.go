package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autocom/internal/types"
)

var refTime = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC) // a Wednesday

func TestExtractBasicTask(t *testing.T) {
	e := NewExtractor()
	tasks := e.Extract("m1", "Please send the report to finance.", refTime)

	require.Len(t, tasks, 1)
	assert.Equal(t, "m1", tasks[0].SourceMessageID)
	assert.Equal(t, types.TaskPending, tasks[0].Status)
	assert.Contains(t, tasks[0].Title, "send")
	assert.Greater(t, tasks[0].Priority, 0.0)
}

func TestExtractNoTaskInPlainText(t *testing.T) {
	e := NewExtractor()
	tasks := e.Extract("m1", "The weather was nice over the weekend.", refTime)
	assert.Empty(t, tasks)
}

func TestModalWeightOrdering(t *testing.T) {
	e := NewExtractor()

	must := e.Extract("m1", "You must submit the form.", refTime)
	should := e.Extract("m2", "You should submit the form.", refTime)
	could := e.Extract("m3", "You could submit the form.", refTime)

	require.Len(t, must, 1)
	require.Len(t, should, 1)
	require.Len(t, could, 1)
	assert.Greater(t, must[0].Priority, should[0].Priority)
	assert.Greater(t, should[0].Priority, could[0].Priority)
}

func TestDeadlineBonusRaisesPriority(t *testing.T) {
	e := NewExtractor()

	with := e.Extract("m1", "Submit the budget by friday.", refTime)
	without := e.Extract("m2", "Submit the budget when convenient.", refTime)

	require.Len(t, with, 1)
	require.Len(t, without, 1)
	require.NotNil(t, with[0].Deadline)
	assert.Nil(t, without[0].Deadline)
	assert.Greater(t, with[0].Priority, without[0].Priority)
}

func TestSynonymNormalization(t *testing.T) {
	e := NewExtractor()
	tasks := e.Extract("m1", "Could you email the slides to the team?", refTime)
	require.Len(t, tasks, 1)
	// "email" normalizes to the canonical "send" weight, so the
	// priority matches an equivalent "send" sentence.
	direct := e.Extract("m2", "Could you send the slides to the team?", refTime)
	require.Len(t, direct, 1)
	assert.Equal(t, direct[0].Priority, tasks[0].Priority)
}

func TestDuplicateTasksMerged(t *testing.T) {
	e := NewExtractor()
	tasks := e.Extract("m1",
		"Please review the design doc. Also please review the design doc today.", refTime)
	assert.Len(t, tasks, 1)
}

func TestMultipleSentencesMultipleTasks(t *testing.T) {
	e := NewExtractor()
	tasks := e.Extract("m1",
		"Fix the login crash first. Then schedule a retro for next week.", refTime)
	assert.Len(t, tasks, 2)
}

func TestParseDeadlineRelative(t *testing.T) {
	d := ParseDeadline("finish this in 2 days please", refTime)
	require.NotNil(t, d)
	assert.Equal(t, refTime.AddDate(0, 0, 2), *d)

	d = ParseDeadline("call them in 3 hours", refTime)
	require.NotNil(t, d)
	assert.Equal(t, refTime.Add(3*time.Hour), *d)
}

func TestParseDeadlineTomorrow(t *testing.T) {
	d := ParseDeadline("send it tomorrow", refTime)
	require.NotNil(t, d)
	assert.Equal(t, 5, d.Day())
	assert.Equal(t, 23, d.Hour())
}

func TestParseDeadlineEndOfDay(t *testing.T) {
	d := ParseDeadline("need the numbers by end of day", refTime)
	require.NotNil(t, d)
	assert.Equal(t, refTime.Day(), d.Day())
	assert.Equal(t, 17, d.Hour())
}

func TestParseDeadlineWeekday(t *testing.T) {
	// refTime is a Wednesday; "by friday" lands two days out.
	d := ParseDeadline("submit by friday", refTime)
	require.NotNil(t, d)
	assert.Equal(t, time.Friday, d.Weekday())
	assert.Equal(t, 6, d.Day())
}

func TestParseDeadlineClock(t *testing.T) {
	d := ParseDeadline("review by 5pm", refTime)
	require.NotNil(t, d)
	assert.Equal(t, 17, d.Hour())

	d = ParseDeadline("review by 12am", refTime)
	require.NotNil(t, d)
	assert.Equal(t, 0, d.Hour())
}

func TestParseDeadlineNone(t *testing.T) {
	assert.Nil(t, ParseDeadline("no time reference here", refTime))
}

func TestUnparsableDeadlineDoesNotFailExtraction(t *testing.T) {
	e := NewExtractor()
	// "by 99pm" resembles a deadline phrase but cannot resolve.
	tasks := e.Extract("m1", "Submit the invoice by 99pm.", refTime)
	require.Len(t, tasks, 1)
	assert.Nil(t, tasks[0].Deadline)
}
