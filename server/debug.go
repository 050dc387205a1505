//go:build debug

package server

// debug mode
const DEBUG = true

// always "DEV" in DEBUG mode
const VERSION = "DEV"
