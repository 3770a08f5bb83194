package jobxredis

import "github.com/Abraxas-365/recibo/pkg/errx"

var redisErrors = errx.NewRegistry("JOBX_REDIS")

var (
	ErrStore     = redisErrors.Register("STORE", errx.TypeExternal, 500, "Redis job store operation failed")
	ErrMarshal   = redisErrors.Register("MARSHAL", errx.TypeInternal, 500, "Failed to serialize job")
	ErrUnmarshal = redisErrors.Register("UNMARSHAL", errx.TypeInternal, 500, "Failed to deserialize job")
)
