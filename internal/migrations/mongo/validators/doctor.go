package validators

import "go.mongodb.org/mongo-driver/bson"

var DoctorValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"name",
			"specialization",
			"availability",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"name": bson.M{
				"bsonType":  "string",
				"minLength": 2,
				"maxLength": 100,
			},

			"specialization": bson.M{
				"bsonType":  "string",
				"minLength": 2,
				"maxLength": 100,
			},

			"mode": bson.M{
				"bsonType": "string",
				"enum": []string{
					"online",
					"in-person",
					"hybrid",
				},
			},

			"availability": bson.M{
				"bsonType": "array",
				"items": bson.M{
					"bsonType": "object",
					"required": []string{"day", "slots"},
					"properties": bson.M{
						"day": bson.M{
							"bsonType": "string",
							"enum": []string{
								"Monday",
								"Tuesday",
								"Wednesday",
								"Thursday",
								"Friday",
								"Saturday",
								"Sunday",
							},
						},
						"slots": bson.M{
							"bsonType": "array",
							"items": bson.M{
								"bsonType": "string",
								"pattern":  "^([01][0-9]|2[0-3]):[0-5][0-9]$",
							},
						},
					},
				},
			},
		},
	},
}
