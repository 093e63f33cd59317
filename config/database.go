package config

import (
	"log"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func ConnectDB(dsn string) *gorm.DB {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true, // Disable prepared statements completely
	}), &gorm.Config{
		PrepareStmt: false,
	})
	if err != nil {
		log.Printf("error connect to database %s", err)
	}
	return db
}

func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("error load env %s", err)
	}
}
