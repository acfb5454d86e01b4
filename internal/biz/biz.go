package biz

import "go.uber.org/fx"

var Module = fx.Module("biz",
	fx.Provide(NewAuthUseCase),
	fx.Provide(NewDialogUseCase),
	fx.Provide(NewCheckUseCase),
)
