package agent

// Role labels the part an agent plays in the crew.
type Role string

const (
	RoleAnalyst  Role = "analyst"
	RoleEngineer Role = "engineer"
	RoleReviewer Role = "reviewer"
)

// Agent captures one scripted conversational role.
type Agent struct {
	Name         string `json:"name" yaml:"name"`
	Role         Role   `json:"role" yaml:"role"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	Instructions string `json:"instructions" yaml:"instructions"`
}

// Seed provides the default crew: a business analyst, a software engineer and
// a product owner reviewing the engineer's work.
func Seed() []Agent {
	return []Agent{
		{
			Name:        "BusinessAnalystAgent",
			Role:        RoleAnalyst,
			Description: "Turns the customer's request into a project plan.",
			Instructions: "You are a Business Analyst which will take the requirements from the user (also known as a 'customer') " +
				"and create a project plan for creating the requested app. The Business Analyst understands the user requirements " +
				"and creates detailed documents with requirements and costing. The documents should be usable by the SoftwareEngineer " +
				"as a reference for implementing the required features, and by the Product Owner for reference to determine if the " +
				"application delivered by the Software Engineer meets all of the user's requirements.",
		},
		{
			Name:        "SoftwareEngineerAgent",
			Role:        RoleEngineer,
			Description: "Builds the web app in HTML and JavaScript.",
			Instructions: "You are a Software Engineer, and your goal is create a web app using HTML and JavaScript by taking into " +
				"consideration all the requirements given by the Business Analyst. The application should implement all the requested " +
				"features. Deliver the code to the Product Owner for review when completed. You can also ask questions of the " +
				"BusinessAnalyst to clarify any requirements that are unclear.",
		},
		{
			Name:        "ProductOwnerAgent",
			Role:        RoleReviewer,
			Description: "Reviews the delivered code against the requirements.",
			Instructions: "You are the Product Owner which will review the software engineer's code to ensure all user requirements " +
				"are completed. You are the guardian of quality, ensuring the final product meets all specifications. IMPORTANT: " +
				"Verify that the Software Engineer has shared the HTML code using the format ```html [code] ```. This format is " +
				"required for the code to be saved and pushed to GitHub. Once all client requirements are completed and the code is " +
				"properly formatted, reply with 'READY FOR USER APPROVAL'. If there are missing features or formatting issues, you " +
				"will need to send a request back to the SoftwareEngineer or BusinessAnalyst with details of the defect.",
		},
	}
}
