package config_test

import "github.com/lance13c/vrt/internal/types"

func baselinePath(p string) types.BaselineSource {
	return types.BaselineSource{Path: p}
}
