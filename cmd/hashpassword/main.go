// Команда hashpassword печатает bcrypt-хэш для OPERATOR_PASSWORD_HASH.
//
//	go run ./cmd/hashpassword 'S3curePassword'
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/ignatzorin/order-sync-gateway/internal/service"
	"github.com/ignatzorin/order-sync-gateway/internal/validation"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("использование: %s <пароль>", os.Args[0])
	}

	password := os.Args[1]
	if err := validation.ValidatePassword(password); err != nil {
		log.Fatalf("hashpassword: %v", err)
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		log.Fatalf("hashpassword: %v", err)
	}
	fmt.Println(hash)
}
