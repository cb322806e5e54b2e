// Package logger is a standardized event logging framework for the shell's
// job lifecycle. Events are written as newline delimited JSON, one
// structpb.Struct per line.
package logger
