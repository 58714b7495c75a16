package main

import "math"

func start(x0 float64) float64 {
	x := x0
	return x
}

func advance(x, v, dt float64) (float64, float64) {
	x = x + v*dt
	return x, v
}

func bounce(x, v, wall float64) float64 {
	if x > wall {
		v = -math.Abs(v)
		return v
	}
	return v
}

func kinetic(mass, v float64) float64 {
	energy := 0.5 * mass * v * v
	return energy
}

func summarize(x, energy float64) float64 {
	total := x + energy
	return total
}
