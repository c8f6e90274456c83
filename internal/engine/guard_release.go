//go:build !keyrxdebug

package engine

const debugBuild = false
