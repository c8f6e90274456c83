//go:build keyrxdebug

package engine

// debugBuild makes contract violations panic instead of being logged.
const debugBuild = true
