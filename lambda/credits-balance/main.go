package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/psibackend/internal/app"
)

func main() {
	a, err := app.New(context.Background())
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize credits-balance")
	}
	lambda.Start(a.Handlers.CreditsBalance.Handle)
}
