//go:build dev || debug

package logger

import "github.com/rs/zerolog"

// defaultLevel define o nível padrão para builds de desenvolvimento (Debug)
// Isso é ativado pelas build tags 'dev' ou 'debug'
var defaultLevel = zerolog.DebugLevel
