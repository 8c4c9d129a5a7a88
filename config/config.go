// Package config
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-29
package config

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.color", true)

	v.AutomaticEnv()
	v.BindEnv("log.level", "AVCUT_LOG_LEVEL")
	v.BindEnv("log.color", "AVCUT_LOG_COLOR")

	v.SetConfigName("avcut")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.avcut")

	// defaults apply when no config file is present
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logrus.WithError(err).Warn("config file found but not readable, using defaults")
		}
	}
}

// GetLogLevel returns the configured logrus level, falling back to info on an
// unparsable value.
func GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(v.GetString("log.level"))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// UseColor reports whether CLI output should be colorized.
func UseColor() bool {
	return v.GetBool("log.color")
}
