package main

import (
	"fmt"
	"net/smtp"
)

func main() {
	from := "sender@remote.test"
	to := "bob@localhost"

	for i := 1; i <= 10; i++ {
		subject := fmt.Sprintf("flatmail example #%d", i)
		body := fmt.Sprintf("Hello from flatmail. Message %d.\r\n", i)
		message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n%s", from, to, subject, body)

		if err := smtp.SendMail("127.0.0.1:2525", nil, from, []string{to}, []byte(message)); err != nil {
			panic(err)
		}
	}

	fmt.Println("sent 10 messages")
}
