package errors

import (
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeData, "nothing"))
	assert.Nil(t, Wrapf(nil, ErrorTypeData, "nothing %d", 1))
}

func TestWrap_PreservesStackAndCause(t *testing.T) {
	inner := New(ErrorTypeConversion, "bad value")
	outer := Wrap(inner, ErrorTypeData, "record 3")

	require.NotNil(t, outer)
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, stderrors.Is(outer, inner))
	assert.Equal(t, "data: record 3: conversion: bad value", outer.Error())
}

func TestIsType_WalksCauses(t *testing.T) {
	inner := New(ErrorTypeSchema, "unsupported union")
	outer := Wrapf(inner, ErrorTypeFile, "reading %s", "a.avro")

	assert.True(t, IsType(outer, ErrorTypeFile))
	assert.True(t, IsType(outer, ErrorTypeSchema))
	assert.False(t, IsType(outer, ErrorTypeConfig))
	assert.False(t, IsType(io.EOF, ErrorTypeFile))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", New(ErrorTypeTimeout, "slow"), true},
		{"connection", New(ErrorTypeConnection, "refused"), true},
		{"schema", New(ErrorTypeSchema, "bad"), false},
		{"plain", io.EOF, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrorTypeValidation, "field %q duplicated", "id")
	assert.Equal(t, `validation: field "id" duplicated`, err.Error())
	assert.NotEmpty(t, err.Stack)
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeSchema, TypeOf(New(ErrorTypeSchema, "bad")))
	assert.Equal(t, ErrorTypeFile, TypeOf(Wrap(New(ErrorTypeSchema, "bad"), ErrorTypeFile, "read")))
	assert.Equal(t, ErrorTypeInternal, TypeOf(io.EOF))
}

func TestPathOf_SurvivesWrapping(t *testing.T) {
	inner := New(ErrorTypeConversion, "cannot convert string to long").At("items[2].qty")
	outer := Wrapf(inner, ErrorTypeData, "record %d", 7)

	assert.Equal(t, "items[2].qty", outer.Path)
	assert.Equal(t, "items[2].qty", PathOf(outer))
	assert.Equal(t, "items[2].qty", PathOf(Wrap(outer, ErrorTypeFile, "orders.avro")))
	assert.Empty(t, PathOf(New(ErrorTypeData, "no path")))
	assert.Empty(t, PathOf(io.EOF))
}

func TestStack_StartsAtCaller(t *testing.T) {
	err := New(ErrorTypeInternal, "here")
	require.NotEmpty(t, err.Stack)
	assert.Contains(t, err.Stack[0].Function, "TestStack_StartsAtCaller")

	wrapped := Wrap(io.EOF, ErrorTypeFile, "read")
	require.NotEmpty(t, wrapped.Stack)
	assert.Contains(t, wrapped.Stack[0].Function, "TestStack_StartsAtCaller")
}
