package emu

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

const (
	maxLoggedData = 100
	loggedEdge    = 50
)

// TraceObserver logs memory accesses and area mappings.
type TraceObserver struct {
	log logrus.FieldLogger
}

// NewTraceObserver creates an observer logging to log at Debug level.
func NewTraceObserver(log logrus.FieldLogger) *TraceObserver {
	return &TraceObserver{log: log}
}

// MemoryRead logs a read.
func (t *TraceObserver) MemoryRead(addr uint64, data []byte) {
	t.log.WithFields(logrus.Fields{
		"addr": fmt.Sprintf("0x%X", addr),
		"len":  len(data),
		"data": formatTraceData(data),
	}).Debug("Memory read")
}

// MemoryWrite logs a write.
func (t *TraceObserver) MemoryWrite(addr uint64, data []byte) {
	t.log.WithFields(logrus.Fields{
		"addr": fmt.Sprintf("0x%X", addr),
		"len":  len(data),
		"data": formatTraceData(data),
	}).Debug("Memory write")
}

// AreaMapped logs a new area.
func (t *TraceObserver) AreaMapped(area *MemoryArea) {
	t.log.WithFields(logrus.Fields{
		"name":   area.Name,
		"start":  fmt.Sprintf("0x%X", area.Start),
		"length": fmt.Sprintf("0x%X", area.Length),
	}).Debug("Area mapped")
}

// formatTraceData renders data as hex, eliding the middle of long buffers.
func formatTraceData(data []byte) string {
	if len(data) <= maxLoggedData {
		return fmt.Sprintf("% x", data)
	}
	return fmt.Sprintf("% x <too much data to display> % x",
		data[:loggedEdge], data[len(data)-loggedEdge:])
}
