package config

import "time"

func defaultRetry() RetryConfig {
	return RetryConfig{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		MaxAttempts:    3,
		WallClockCap:   60 * time.Second,
	}
}

func defaultQueue() QueueConfig {
	return QueueConfig{
		WorkerCount:        5,
		MaxConcurrent:      5,
		PollInterval:       1 * time.Second,
		PollIntervalJitter: 500 * time.Millisecond,
		TaskTimeout:        10 * time.Minute,
		MaxRetries:         2,
	}
}

func defaultDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "codeurv2",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

func defaultRetrieval() RetrievalConfig {
	return RetrievalConfig{
		RedisAddr:     "localhost:6379",
		DefaultK:      8,
		DefaultAlpha:  0.25,
		SnippetCap:    200,
		SnippetCacheN: 2048,
	}
}
