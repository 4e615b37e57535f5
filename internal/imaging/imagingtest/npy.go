// Package imagingtest builds array payloads for tests.
package imagingtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// NPY encodes data as a version 1.0 .npy file with the given dtype
// descriptor (for example "<f8" or "|u1") and shape. data must be a slice
// of fixed-size values matching descr.
func NPY(t testing.TB, descr string, shape []int, data any) []byte {
	return npy(t, descr, shape, false, data)
}

// FortranNPY is like NPY but marks the array as column-major.
func FortranNPY(t testing.TB, descr string, shape []int, data any) []byte {
	return npy(t, descr, shape, true, data)
}

// Ramp returns n float64 values 0, 1, ..., n-1.
func Ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func npy(t testing.TB, descr string, shape []int, fortran bool, data any) []byte {
	t.Helper()

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	shapeStr := "(" + strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	shapeStr += ")"

	order := "False"
	if fortran {
		order = "True"
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': %s, 'shape': %s, }", descr, order, shapeStr)

	// magic(6) + version(2) + header length(2) + header + newline is 64-byte aligned
	pad := (64 - (10+len(header)+1)%64) % 64
	header += strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(header))))
	buf.WriteString(header)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, data))
	return buf.Bytes()
}
