package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"laptopRent/internal/rental"
)

func (app *application) routes() (http.Handler, error) {
	standardMiddleware := alice.New(app.recoverPanic, requestID, app.logRequest, secureHeaders)
	authMiddleware := alice.New(app.JWTMiddleware)

	mux := pat.New()

	// Bookings, staff operations and payment callbacks.
	if err := rental.RegisterRentalRoutes(mux, app.rental, alice.New(), authMiddleware); err != nil {
		return nil, err
	}

	return standardMiddleware.Then(mux), nil
}
