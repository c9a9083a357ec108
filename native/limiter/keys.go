package limiter

import "fmt"

const limiterPrefix = "limiter"

func usageKey(assetID uint8) []byte {
	return []byte(fmt.Sprintf("%s/usage/%d", limiterPrefix, assetID))
}

func limitKey(assetID uint8) []byte {
	return []byte(fmt.Sprintf("%s/limit/%d", limiterPrefix, assetID))
}
