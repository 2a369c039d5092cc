//go:build !unix

package system

import "github.com/rs/zerolog"

func InitResourceLimits(zerolog.Logger) {}
