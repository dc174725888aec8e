// Package sink holds the presentation hand-off points the player's stream
// callbacks write into. Every sink accepts units without blocking the
// caller: the render sink keeps only the newest frame, the audio sink is a
// fixed-capacity ring that overwrites its oldest samples, and the subtitle
// sink keeps the current overlay text.
package sink
