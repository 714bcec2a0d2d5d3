// Package logx is dcawatch's logging layer on top of zerolog.
//
// Console entries carry a short timestamp and a file:line caller. The file
// sink writes JSON lines. Service.Apply changes level and sinks at runtime,
// which is how config reloads reach the loggers held by every component.
package logx
