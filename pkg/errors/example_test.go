package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

func Example() {
	err := errors.Newf(errors.ErrorTypeConversion, "cannot convert %T to decimal(10,2)", "abc").
		At("lines[0].amount")

	wrapped := errors.Wrap(err, errors.ErrorTypeData, "record 12")
	fmt.Println(wrapped)
	fmt.Println(errors.PathOf(wrapped))

	// Output:
	// data: record 12: conversion: cannot convert string to decimal(10,2)
	// lines[0].amount
}

func ExampleIsType() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeFile, "failed to read avro container")

	fmt.Println(errors.IsType(err, errors.ErrorTypeFile), errors.Is(err, io.ErrUnexpectedEOF))

	// Output:
	// true true
}
